package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/superblog/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, issued_at, expires_at, last_renewed_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		session.ID, session.UserID, session.IssuedAt, session.ExpiresAt, session.LastRenewedAt,
	)
	if err != nil {
		return classify("failed to create session", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れまたは失効済みの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, issued_at, expires_at, last_renewed_at
		 FROM sessions
		 WHERE id = $1 AND revoked_at IS NULL AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &session.IssuedAt, &session.ExpiresAt, &session.LastRenewedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("failed to find session", err)
	}

	return session, nil
}

// IsRevoked はセッションが失効済みかどうかを返す。
// 行が存在しない場合も失効済みとして扱う。
func (r *PostgresSessionRepo) IsRevoked(ctx context.Context, id string) (bool, error) {
	var revoked bool
	err := r.db.QueryRowContext(ctx,
		`SELECT revoked_at IS NOT NULL FROM sessions WHERE id = $1`,
		id,
	).Scan(&revoked)

	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return true, classify("failed to check session revocation", err)
	}
	return revoked, nil
}

// Revoke はセッションを失効させる。失効時刻は最初の失効時のものを保持する。
func (r *PostgresSessionRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, at,
	)
	if err != nil {
		return classify("failed to revoke session", err)
	}
	return nil
}

// Touch はセッションの最終更新時刻と有効期限を更新する。
// GREATESTにより有効期限が過去方向に戻ることはない。
func (r *PostgresSessionRepo) Touch(ctx context.Context, id string, renewedAt, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET last_renewed_at = GREATEST(last_renewed_at, $2),
		     expires_at = GREATEST(expires_at, $3)
		 WHERE id = $1 AND revoked_at IS NULL`,
		id, renewedAt, expiresAt,
	)
	if err != nil {
		return classify("failed to touch session", err)
	}
	return nil
}

// DeleteStale は指定時刻より前に期限切れまたは失効したセッションを物理削除する。
func (r *PostgresSessionRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < $1 OR revoked_at < $1`,
		before,
	)
	if err != nil {
		return 0, classify("failed to delete stale sessions", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("failed to get rows affected", err)
	}
	return n, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
