package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/superblog/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByProviderSubject はproviderとprovider_subject_idでアカウントを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByProviderSubject(ctx context.Context, provider, subjectID string) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_subject_id, created_at
		 FROM accounts
		 WHERE provider = $1 AND provider_subject_id = $2`,
		provider, subjectID,
	).Scan(&account.ID, &account.UserID, &account.Provider, &account.ProviderSubjectID, &account.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify("failed to find account", err)
	}

	return account, nil
}

// ListByUserID は指定ユーザーに紐付く全アカウントを作成順に返す。
func (r *PostgresAccountRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, provider, provider_subject_id, created_at
		 FROM accounts
		 WHERE user_id = $1
		 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, classify("failed to list accounts", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		a := &model.Account{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderSubjectID, &a.CreatedAt); err != nil {
			return nil, classify("failed to scan account", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("failed to iterate accounts", err)
	}

	return accounts, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
