// Package cleanup は不要になった認証データの定期削除ジョブを提供する。
// 保持期間を過ぎた期限切れ・失効済みセッションと、使用済み認可コードの記録を削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/superblog/internal/metrics"
	"github.com/hitoshi/superblog/internal/repository"
)

// DefaultCallbackRetention は使用済み認可コードを保持する期間。
// 認可コードの有効期間（数分）より十分長ければよい。
const DefaultCallbackRetention = 24 * time.Hour

// Job は保持期間を超過した認証データの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type Job struct {
	sessions  repository.SessionRepository
	callbacks repository.CallbackRepository
	logger    *slog.Logger
	metrics   metrics.AuthRecorder

	SessionRetention  time.Duration // 期限切れ・失効後にセッションを残す期間
	CallbackRetention time.Duration
	Now               func() time.Time
}

// NewJob は新しいJobを生成する。recがnilの場合はメトリクスを記録しない。
func NewJob(store repository.CredentialStore, logger *slog.Logger, rec metrics.AuthRecorder, sessionRetention time.Duration) *Job {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Job{
		sessions:          store.Sessions,
		callbacks:         store.Callbacks,
		logger:            logger,
		metrics:           rec,
		SessionRetention:  sessionRetention,
		CallbackRetention: DefaultCallbackRetention,
		Now:               time.Now,
	}
}

// Run はセッションと認可コードの記録を1回削除する。
// 片方が失敗してももう片方は実行し、最初のエラーを返す。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()
	now := j.Now()

	sessionsDeleted, sessErr := j.sessions.DeleteStale(ctx, now.Add(-j.SessionRetention))
	if sessErr != nil {
		j.logger.Error("failed to delete stale sessions",
			slog.String("error", sessErr.Error()),
			slog.Duration("retention", j.SessionRetention),
		)
	} else {
		j.metrics.RecordCleanup("sessions", sessionsDeleted)
	}

	callbacksDeleted, cbErr := j.callbacks.DeleteBefore(ctx, now.Add(-j.CallbackRetention))
	if cbErr != nil {
		j.logger.Error("failed to delete consumed callbacks",
			slog.String("error", cbErr.Error()),
		)
	} else {
		j.metrics.RecordCleanup("callbacks", callbacksDeleted)
	}

	if sessErr != nil {
		return fmt.Errorf("session cleanup failed: %w", sessErr)
	}
	if cbErr != nil {
		return fmt.Errorf("callback cleanup failed: %w", cbErr)
	}

	j.logger.Info("cleanup completed",
		slog.Int64("sessions_deleted", sessionsDeleted),
		slog.Int64("callbacks_deleted", callbacksDeleted),
		slog.Duration("retention", j.SessionRetention),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後interval毎にRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
