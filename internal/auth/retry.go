package auth

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hitoshi/superblog/internal/repository"
)

// writeAttempts は一時的な障害に対する書き込みの最大試行回数（初回＋再試行1回）。
const writeAttempts = 2

func newWriteBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	return b
}

// retryTransient はopをErrTransientの場合に限り1回だけ再試行する。
// attemptは1始まりの試行回数。
func retryTransient(ctx context.Context, op func(attempt int) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := op(attempt)
		if err != nil && !repository.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(newWriteBackOff()),
		backoff.WithMaxTries(writeAttempts),
	)
	return err
}
