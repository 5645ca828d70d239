// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/superblog/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithAccount はユーザーとアカウントを同一トランザクションで作成する。
	// (provider, provider_subject_id) が既に存在する場合はErrDuplicateを返し、
	// ユーザーも作成されない。
	CreateWithAccount(ctx context.Context, user *model.User, account *model.Account) error

	// UpdateProfile はプロバイダーから取得した表示名とメールアドレスを反映する。
	UpdateProfile(ctx context.Context, id, name, email string, updatedAt time.Time) error
}

// AccountRepository は外部プロバイダー紐付け情報の永続化インターフェース。
type AccountRepository interface {
	// FindByProviderSubject はproviderとprovider_subject_idでアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderSubject(ctx context.Context, provider, subjectID string) (*model.Account, error)

	// ListByUserID は指定ユーザーに紐付く全アカウントを作成順に返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Account, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。IDが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, session *model.Session) error

	// FindByID は指定IDのセッションを取得する。
	// 期限切れまたは失効済みの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)

	// IsRevoked はセッションが失効済みかどうかを返す。
	// 行が存在しない場合も失効済みとして扱う。
	IsRevoked(ctx context.Context, id string) (bool, error)

	// Revoke はセッションを失効させる。既に失効済みの場合は何もしない。
	Revoke(ctx context.Context, id string, at time.Time) error

	// Touch はセッションの最終更新時刻と有効期限を更新する。
	// 有効期限は現在値より前には戻さない。
	Touch(ctx context.Context, id string, renewedAt, expiresAt time.Time) error

	// DeleteStale は指定時刻より前に期限切れまたは失効したセッションを物理削除する。
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// CallbackRepository は使用済みOAuth認可コードの記録インターフェース。
type CallbackRepository interface {
	// Consume は認可コードのハッシュを使用済みとして記録する。
	// 既に記録済みの場合はErrDuplicateを返す。
	Consume(ctx context.Context, codeHash, provider string, at time.Time) error

	// DeleteBefore は指定時刻より前に記録されたコードを削除する。
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// CredentialStore は認証サービスが利用する永続化ケイパビリティの集合。
type CredentialStore struct {
	Users     UserRepository
	Accounts  AccountRepository
	Sessions  SessionRepository
	Callbacks CallbackRepository
}
