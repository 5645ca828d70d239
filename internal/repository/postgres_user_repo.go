package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/superblog/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("failed to find user by ID", err)
	}

	return user, nil
}

// CreateWithAccount はユーザーとアカウントを同一トランザクションで作成する。
// accountsの一意制約に違反した場合はロールバックされ、ユーザー行も残らない。
func (r *PostgresUserRepo) CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("failed to begin transaction", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return classify("failed to insert user", err)
	}

	// アカウントを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, provider, provider_subject_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		account.ID, account.UserID, account.Provider, account.ProviderSubjectID, account.CreatedAt,
	)
	if err != nil {
		return classify("failed to insert account", err)
	}

	if err := tx.Commit(); err != nil {
		return classify("failed to commit transaction", err)
	}

	return nil
}

// UpdateProfile はユーザーの表示名とメールアドレスを更新する。
func (r *PostgresUserRepo) UpdateProfile(ctx context.Context, id, name, email string, updatedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, email = $3, updated_at = $4 WHERE id = $1`,
		id, name, email, updatedAt,
	)
	if err != nil {
		return classify("failed to update user profile", err)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
