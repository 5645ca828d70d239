// Package user はユーザープロフィールの参照を提供する。
package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/superblog/internal/model"
	"github.com/hitoshi/superblog/internal/repository"
)

// ErrNotFound はユーザーが存在しないことを表す。
var ErrNotFound = errors.New("user: not found")

// Profile はユーザーと紐付いた外部アカウントの一覧。
type Profile struct {
	User     *model.User
	Accounts []*model.Account
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	accountRepo repository.AccountRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, accountRepo repository.AccountRepository) *Service {
	return &Service{
		userRepo:    userRepo,
		accountRepo: accountRepo,
	}
}

// Profile はユーザーのプロフィールを取得する。
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}

	accounts, err := s.accountRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	return &Profile{User: u, Accounts: accounts}, nil
}
