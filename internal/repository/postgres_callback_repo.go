package repository

import (
	"context"
	"database/sql"
	"time"
)

// PostgresCallbackRepo はPostgreSQLを使用した使用済み認可コードのリポジトリ。
// 主キー制約により同一コードの並行コールバックを直列化する。
type PostgresCallbackRepo struct {
	db *sql.DB
}

// NewPostgresCallbackRepo はPostgresCallbackRepoを生成する。
func NewPostgresCallbackRepo(db *sql.DB) *PostgresCallbackRepo {
	return &PostgresCallbackRepo{db: db}
}

// Consume は認可コードのハッシュを使用済みとして記録する。
func (r *PostgresCallbackRepo) Consume(ctx context.Context, codeHash, provider string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_callbacks (code_hash, provider, consumed_at) VALUES ($1, $2, $3)`,
		codeHash, provider, at,
	)
	if err != nil {
		return classify("failed to consume oauth callback", err)
	}
	return nil
}

// DeleteBefore は指定時刻より前に記録されたコードを削除する。
func (r *PostgresCallbackRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_callbacks WHERE consumed_at < $1`,
		before,
	)
	if err != nil {
		return 0, classify("failed to delete consumed callbacks", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, classify("failed to get rows affected", err)
	}
	return n, nil
}

// NewPostgresCredentialStore はPostgreSQL実装を束ねたCredentialStoreを返す。
func NewPostgresCredentialStore(db *sql.DB) CredentialStore {
	return CredentialStore{
		Users:     NewPostgresUserRepo(db),
		Accounts:  NewPostgresAccountRepo(db),
		Sessions:  NewPostgresSessionRepo(db),
		Callbacks: NewPostgresCallbackRepo(db),
	}
}

// compile-time interface check
var _ CallbackRepository = (*PostgresCallbackRepo)(nil)
