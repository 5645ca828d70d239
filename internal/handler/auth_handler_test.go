package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/superblog/internal/auth"
	"github.com/hitoshi/superblog/internal/middleware"
	"github.com/hitoshi/superblog/internal/model"
	"github.com/hitoshi/superblog/internal/repository"
	"github.com/hitoshi/superblog/internal/session"
)

// --- モック定義 ---

type mockAuthService struct {
	beginSignInFn    func(provider, returnTo string) (*auth.SignInStart, error)
	completeSignInFn func(ctx context.Context, cb auth.Callback) (*auth.SignInResult, error)
	resolveFn        func(ctx context.Context, r *http.Request) (*auth.Resolution, error)
	signOutFn        func(ctx context.Context, sessionID string) error
	sessionIDFn      func(r *http.Request) (string, bool)
	currentUserFn    func(ctx context.Context, userID string) (*model.User, error)
	writeSignInErr   error

	lastCallback   auth.Callback
	signInWritten  bool
	cookiesCleared bool
}

func (m *mockAuthService) BeginSignIn(provider, returnTo string) (*auth.SignInStart, error) {
	if m.beginSignInFn != nil {
		return m.beginSignInFn(provider, returnTo)
	}
	return nil, auth.ErrUnknownProvider
}

func (m *mockAuthService) CompleteSignIn(ctx context.Context, cb auth.Callback) (*auth.SignInResult, error) {
	m.lastCallback = cb
	if m.completeSignInFn != nil {
		return m.completeSignInFn(ctx, cb)
	}
	return nil, auth.ErrCallbackStateMismatch
}

func (m *mockAuthService) WriteSignInCookies(w http.ResponseWriter, result *auth.SignInResult) error {
	if m.writeSignInErr != nil {
		return m.writeSignInErr
	}
	m.signInWritten = true
	http.SetCookie(w, &http.Cookie{Name: session.DefaultTokenCookieName, Value: "token"})
	return nil
}

func (m *mockAuthService) ResolveSession(ctx context.Context, r *http.Request) (*auth.Resolution, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, r)
	}
	return nil, auth.ErrUnauthenticated
}

func (m *mockAuthService) WriteCookies(w http.ResponseWriter, res *auth.Resolution) {}

func (m *mockAuthService) SignOut(ctx context.Context, sessionID string) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) SessionIDFromRequest(r *http.Request) (string, bool) {
	if m.sessionIDFn != nil {
		return m.sessionIDFn(r)
	}
	return "", false
}

func (m *mockAuthService) ClearCookies(w http.ResponseWriter) {
	m.cookiesCleared = true
	http.SetCookie(w, &http.Cookie{Name: session.DefaultTokenCookieName, MaxAge: -1})
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, auth.ErrUserNotFound
}

// withProvider はchiのURLパラメータ {provider} を設定したリクエストを返す。
func withProvider(req *http.Request, provider string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("provider", provider)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

// --- テスト ---

func TestAuthHandler_SignIn_SetsStateCookieAndRedirects(t *testing.T) {
	var gotReturnTo string
	svc := &mockAuthService{
		beginSignInFn: func(provider, returnTo string) (*auth.SignInStart, error) {
			gotReturnTo = returnTo
			return &auth.SignInStart{
				RedirectURL: "https://accounts.google.com/o/oauth2/auth?state=nonce",
				StateToken:  "state-jwt",
				StateTTL:    10 * time.Minute,
			}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := withProvider(httptest.NewRequest(http.MethodGet, "/auth/google/sign-in?returnTo=/posts/new", nil), "google")
	w := httptest.NewRecorder()
	h.SignIn(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "https://accounts.google.com/o/oauth2/auth?state=nonce" {
		t.Errorf("Location = %q", loc)
	}
	if gotReturnTo != "/posts/new" {
		t.Errorf("returnTo = %q, want /posts/new", gotReturnTo)
	}

	c := findCookie(resp, session.StateCookieName)
	if c == nil {
		t.Fatal("expected state cookie")
	}
	if c.Value != "state-jwt" || !c.HttpOnly || c.MaxAge != 600 {
		t.Errorf("state cookie = %+v", c)
	}
}

func TestAuthHandler_SignIn_UnknownProvider_Returns404(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, AuthHandlerConfig{})

	req := withProvider(httptest.NewRequest(http.MethodGet, "/auth/myspace/sign-in", nil), "myspace")
	w := httptest.NewRecorder()
	h.SignIn(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeUnknownProvider {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnknownProvider)
	}
}

func TestAuthHandler_Callback_Success_SetsCookiesAndRedirects(t *testing.T) {
	svc := &mockAuthService{
		completeSignInFn: func(ctx context.Context, cb auth.Callback) (*auth.SignInResult, error) {
			return &auth.SignInResult{
				User:     &model.User{ID: "user-1"},
				Session:  &model.Session{ID: "sess-1"},
				ReturnTo: "/posts/new",
			}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state=nonce", nil)
	req.AddCookie(&http.Cookie{Name: session.StateCookieName, Value: "state-jwt"})
	w := httptest.NewRecorder()
	h.Callback(w, withProvider(req, "google"))

	resp := w.Result()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/posts/new" {
		t.Errorf("Location = %q, want /posts/new", loc)
	}
	if !svc.signInWritten {
		t.Error("session cookies were not written")
	}

	want := auth.Callback{Provider: "google", Code: "abc", State: "nonce", StateToken: "state-jwt"}
	if svc.lastCallback != want {
		t.Errorf("callback = %+v, want %+v", svc.lastCallback, want)
	}

	if c := findCookie(resp, session.StateCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("state cookie must be cleared, got %+v", c)
	}
}

func TestAuthHandler_Callback_Failures_RedirectToSignInWithCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"already consumed", auth.ErrCallbackAlreadyConsumed, "already_consumed"},
		{"state mismatch", fmt.Errorf("verify: %w", auth.ErrCallbackStateMismatch), "state_mismatch"},
		{"unknown provider", auth.ErrUnknownProvider, "unknown_provider"},
		{"provider rejected", auth.ErrProviderRejected, "provider_rejected"},
		{"store timeout", fmt.Errorf("create session: %w", context.DeadlineExceeded), "unavailable"},
		{"transient store", fmt.Errorf("insert: %w", repository.ErrTransient), "unavailable"},
		{"exchange", auth.ErrProviderExchange, "sign_in_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				completeSignInFn: func(ctx context.Context, cb auth.Callback) (*auth.SignInResult, error) {
					return nil, tt.err
				},
			}
			h := NewAuthHandler(svc, AuthHandlerConfig{SignInPath: "/login"})

			req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=abc&state=x", nil)
			w := httptest.NewRecorder()
			h.Callback(w, withProvider(req, "google"))

			if w.Code != http.StatusSeeOther {
				t.Fatalf("status = %d, want 303", w.Code)
			}
			if loc := w.Header().Get("Location"); loc != "/login?error="+tt.want {
				t.Errorf("Location = %q, want /login?error=%s", loc, tt.want)
			}
			if svc.signInWritten {
				t.Error("session cookies must not be written on failure")
			}
		})
	}
}

func TestAuthHandler_Callback_ProviderErrorIsForwarded(t *testing.T) {
	svc := &mockAuthService{
		completeSignInFn: func(ctx context.Context, cb auth.Callback) (*auth.SignInResult, error) {
			if cb.ProviderError != "access_denied" {
				t.Errorf("ProviderError = %q, want access_denied", cb.ProviderError)
			}
			return nil, auth.ErrProviderRejected
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?error=access_denied&state=x", nil)
	w := httptest.NewRecorder()
	h.Callback(w, withProvider(req, "google"))

	if loc := w.Header().Get("Location"); loc != "/sign-in?error=provider_rejected" {
		t.Errorf("Location = %q", loc)
	}
}

func TestAuthHandler_Callback_CookieWriteFailure(t *testing.T) {
	svc := &mockAuthService{
		completeSignInFn: func(ctx context.Context, cb auth.Callback) (*auth.SignInResult, error) {
			return &auth.SignInResult{Session: &model.Session{}, ReturnTo: "/"}, nil
		},
		writeSignInErr: errors.New("encode view"),
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Callback(w, withProvider(httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=a&state=b", nil), "google"))

	if loc := w.Header().Get("Location"); loc != "/sign-in?error=sign_in_failed" {
		t.Errorf("Location = %q", loc)
	}
}

func TestAuthHandler_SignOut_RevokesAndClearsCookies(t *testing.T) {
	var revoked string
	svc := &mockAuthService{
		sessionIDFn: func(r *http.Request) (string, bool) { return "sess-1", true },
		signOutFn: func(ctx context.Context, sessionID string) error {
			revoked = sessionID
			return nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.SignOut(w, httptest.NewRequest(http.MethodPost, "/auth/sign-out", nil))

	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Errorf("status = %d, Location = %q", w.Code, w.Header().Get("Location"))
	}
	if revoked != "sess-1" {
		t.Errorf("revoked = %q, want sess-1", revoked)
	}
	if !svc.cookiesCleared {
		t.Error("cookies were not cleared")
	}
}

func TestAuthHandler_SignOut_NoSession_StillClearsCookies(t *testing.T) {
	called := false
	svc := &mockAuthService{
		signOutFn: func(ctx context.Context, sessionID string) error {
			called = true
			return nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.SignOut(w, httptest.NewRequest(http.MethodPost, "/auth/sign-out", nil))

	if called {
		t.Error("SignOut must not be called without a session")
	}
	if w.Code != http.StatusSeeOther || !svc.cookiesCleared {
		t.Errorf("status = %d, cleared = %v", w.Code, svc.cookiesCleared)
	}
}

func TestAuthHandler_SignOut_StoreFailure_KeepsCookies(t *testing.T) {
	svc := &mockAuthService{
		sessionIDFn: func(r *http.Request) (string, bool) { return "sess-1", true },
		signOutFn: func(ctx context.Context, sessionID string) error {
			return fmt.Errorf("revoke: %w", repository.ErrTransient)
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.SignOut(w, httptest.NewRequest(http.MethodPost, "/auth/sign-out", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if svc.cookiesCleared {
		t.Error("cookies must be kept when revocation was not recorded")
	}
	if body := decodeError(t, w); body.Code != model.ErrCodeServiceUnavailable {
		t.Errorf("code = %q", body.Code)
	}
}

func TestAuthHandler_Me_Authenticated_ReturnsUserJSON(t *testing.T) {
	svc := &mockAuthService{
		resolveFn: func(ctx context.Context, r *http.Request) (*auth.Resolution, error) {
			return &auth.Resolution{UserID: "user-1", SessionID: "sess-1"}, nil
		},
		currentUserFn: func(ctx context.Context, userID string) (*model.User, error) {
			return &model.User{ID: userID, Name: "Ada", Email: "ada@example.com"}, nil
		},
	}
	h := NewAuthHandler(svc, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body meResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := meResponse{ID: "user-1", Name: "Ada", Email: "ada@example.com"}
	if body != want {
		t.Errorf("body = %+v, want %+v", body, want)
	}
}

func TestAuthHandler_Me_Errors(t *testing.T) {
	resolved := func(ctx context.Context, r *http.Request) (*auth.Resolution, error) {
		return &auth.Resolution{UserID: "user-1"}, nil
	}
	tests := []struct {
		name       string
		svc        *mockAuthService
		wantStatus int
		wantCode   string
	}{
		{
			name:       "no session",
			svc:        &mockAuthService{},
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeUnauthorized,
		},
		{
			name:       "user deleted",
			svc:        &mockAuthService{resolveFn: resolved},
			wantStatus: http.StatusUnauthorized,
			wantCode:   model.ErrCodeUserNotFound,
		},
		{
			name: "store failure",
			svc: &mockAuthService{
				resolveFn: resolved,
				currentUserFn: func(ctx context.Context, userID string) (*model.User, error) {
					return nil, repository.ErrTransient
				},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   model.ErrCodeServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(tt.svc, AuthHandlerConfig{})
			w := httptest.NewRecorder()
			h.Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeError(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}
