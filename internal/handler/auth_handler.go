// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/superblog/internal/auth"
	"github.com/hitoshi/superblog/internal/middleware"
	"github.com/hitoshi/superblog/internal/model"
	"github.com/hitoshi/superblog/internal/repository"
	"github.com/hitoshi/superblog/internal/session"
)

// AuthService は認証ハンドラーが必要とするサービスインターフェース。
// auth.Serviceが実装する。
type AuthService interface {
	BeginSignIn(provider, returnTo string) (*auth.SignInStart, error)
	CompleteSignIn(ctx context.Context, cb auth.Callback) (*auth.SignInResult, error)
	WriteSignInCookies(w http.ResponseWriter, result *auth.SignInResult) error
	ResolveSession(ctx context.Context, r *http.Request) (*auth.Resolution, error)
	WriteCookies(w http.ResponseWriter, res *auth.Resolution)
	SignOut(ctx context.Context, sessionID string) error
	SessionIDFromRequest(r *http.Request) (string, bool)
	ClearCookies(w http.ResponseWriter)
	CurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	SignInPath  string          // サインイン失敗時の戻り先
	StateCookie *session.Cookie // OAuthのstateトークンを保持するCookie
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthService
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthService, config AuthHandlerConfig) *AuthHandler {
	if config.SignInPath == "" {
		config.SignInPath = "/sign-in"
	}
	if config.StateCookie == nil {
		config.StateCookie = session.NewStateCookie(session.CookieConfig{})
	}
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// SignIn はOAuthフローを開始する。
// GET /auth/{provider}/sign-in?returnTo=/path
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	start, err := h.service.BeginSignIn(provider, r.URL.Query().Get("returnTo"))
	if err != nil {
		if errors.Is(err, auth.ErrUnknownProvider) {
			middleware.WriteAPIError(w, model.NewUnknownProviderError(provider))
			return
		}
		slog.Error("failed to begin sign-in",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	h.config.StateCookie.Write(w, start.StateToken, start.StateTTL)
	http.Redirect(w, r, start.RedirectURL, http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/{provider}/callback?code=xxx&state=yyy
// 成功時はセッションCookieを設定してreturnToへ、失敗時はサインインページへリダイレクトする。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	stateToken, _ := h.config.StateCookie.Read(r)
	// stateは1回限り有効
	h.config.StateCookie.Clear(w)

	result, err := h.service.CompleteSignIn(r.Context(), auth.Callback{
		Provider:      provider,
		Code:          q.Get("code"),
		State:         q.Get("state"),
		StateToken:    stateToken,
		ProviderError: q.Get("error"),
	})
	if err != nil {
		code := callbackErrorCode(err)
		if code == "sign_in_failed" || code == "unavailable" {
			slog.Error("oauth callback failed",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
		}
		http.Redirect(w, r, h.config.SignInPath+"?error="+code, http.StatusSeeOther)
		return
	}

	if err := h.service.WriteSignInCookies(w, result); err != nil {
		slog.Error("failed to write session cookies", slog.String("error", err.Error()))
		http.Redirect(w, r, h.config.SignInPath+"?error=sign_in_failed", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, result.ReturnTo, http.StatusSeeOther)
}

// SignOut はセッションを失効させ、両方のセッションCookieを削除する。
// POST /auth/sign-out
// 失効の記録に失敗した場合はCookieを削除せず503を返す。
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.service.SessionIDFromRequest(r)
	if ok {
		if err := h.service.SignOut(r.Context(), sessionID); err != nil {
			slog.Error("failed to sign out",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			middleware.WriteAPIError(w, model.NewServiceUnavailableError())
			return
		}
	}

	h.service.ClearCookies(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// meResponse は /auth/me のレスポンス。
type meResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Me は現在のサインインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.ResolveSession(r.Context(), r)
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.CurrentUser(r.Context(), res.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			middleware.WriteAPIError(w, model.NewUserNotFoundError())
			return
		}
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteAPIError(w, model.NewServiceUnavailableError())
		return
	}

	if res.NeedsCookies() {
		h.service.WriteCookies(w, res)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meResponse{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
	})
}

// callbackErrorCode はサインイン失敗をサインインページに渡すエラーコードに変換する。
func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, auth.ErrCallbackAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, auth.ErrCallbackStateMismatch):
		return "state_mismatch"
	case errors.Is(err, auth.ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, auth.ErrProviderRejected):
		return "provider_rejected"
	case errors.Is(err, context.DeadlineExceeded), repository.IsTransient(err):
		return "unavailable"
	default:
		return "sign_in_failed"
	}
}
