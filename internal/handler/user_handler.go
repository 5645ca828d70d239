package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/superblog/internal/middleware"
	"github.com/hitoshi/superblog/internal/model"
	"github.com/hitoshi/superblog/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Profile はユーザーと紐付いた外部アカウントを取得する。
	// ユーザーが存在しない場合はuser.ErrNotFoundを返す。
	Profile(ctx context.Context, userID string) (*user.Profile, error)
}

// UserHandler はユーザー情報のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type accountResponse struct {
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

type profileResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	CreatedAt time.Time         `json:"created_at"`
	Accounts  []accountResponse `json:"accounts"`
}

// Profile はサインイン中のユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	profile, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			middleware.WriteAPIError(w, model.NewUserNotFoundError())
			return
		}
		slog.Error("failed to load profile",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteAPIError(w, model.NewServiceUnavailableError())
		return
	}

	// プロバイダーのsubject IDは外部に出さない
	accounts := make([]accountResponse, 0, len(profile.Accounts))
	for _, a := range profile.Accounts {
		accounts = append(accounts, accountResponse{Provider: a.Provider, CreatedAt: a.CreatedAt})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profileResponse{
		ID:        profile.User.ID,
		Name:      profile.User.Name,
		Email:     profile.User.Email,
		CreatedAt: profile.User.CreatedAt,
		Accounts:  accounts,
	})
}
