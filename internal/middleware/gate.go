package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/superblog/internal/auth"
	"github.com/hitoshi/superblog/internal/model"
)

// SessionResolver はリクエストからセッションを解決する。
// auth.Serviceの部分集合として定義する。
type SessionResolver interface {
	ResolveSession(ctx context.Context, r *http.Request) (*auth.Resolution, error)
	WriteCookies(w http.ResponseWriter, res *auth.Resolution)
}

// PathMatcher は保護対象パスの判定を行う。
type PathMatcher interface {
	Match(path string) bool
}

// NewRouteGate は保護対象パスへのリクエストにセッションを要求するミドルウェアを返す。
// 未認証の場合は303 See OtherでsignInPathへリダイレクトし、returnToに元のパスとクエリを渡す。
// 認証済みの場合は必要に応じてCookieを書き直し、ユーザーIDとセッションIDをコンテキストに注入する。
// 保護対象外のパスはセッションを解決せずに通過させる。
func NewRouteGate(resolver SessionResolver, matcher PathMatcher, signInPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !matcher.Match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			res, err := resolver.ResolveSession(r.Context(), r)
			if err != nil {
				if !errors.Is(err, auth.ErrUnauthenticated) {
					slog.Error("failed to resolve session", slog.String("error", err.Error()))
				}
				http.Redirect(w, r, SignInRedirectURL(signInPath, r.URL.RequestURI()), http.StatusSeeOther)
				return
			}

			if res.NeedsCookies() {
				resolver.WriteCookies(w, res)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), res.UserID, res.SessionID)))
		})
	}
}

// NewRequireSession はセッションを要求するAPI向けミドルウェアを返す。
// 未認証の場合はリダイレクトせず、401と統一エラーフォーマットのJSONを返す。
// ルートゲートが解決済みのリクエストは再解決しない。
func NewRequireSession(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := SessionIDFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			res, err := resolver.ResolveSession(r.Context(), r)
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			if res.NeedsCookies() {
				resolver.WriteCookies(w, res)
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), res.UserID, res.SessionID)))
		})
	}
}

// SignInRedirectURL はサインインページのURLにreturnToを付与する。
func SignInRedirectURL(signInPath, returnTo string) string {
	q := url.Values{}
	q.Set("returnTo", returnTo)
	return signInPath + "?" + q.Encode()
}
