package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// newGoogleTestServer はトークンエンドポイントとユーザー情報エンドポイントを持つテストサーバーを起動する。
func newGoogleTestServer(t *testing.T, userInfoStatus int, userInfo map[string]string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		if r.PostForm.Get("client_id") != "client-id" || r.PostForm.Get("client_secret") != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access-123","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(userInfoStatus)
		json.NewEncoder(w).Encode(userInfo)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestGoogleProvider(ts *httptest.Server) *GoogleOAuthProvider {
	return NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/auth/google/callback",
		AuthURL:      ts.URL + "/auth",
		TokenURL:     ts.URL + "/token",
		UserInfoURL:  ts.URL + "/userinfo",
		HTTPClient:   ts.Client(),
	})
}

func TestGoogleOAuthProvider_AuthCodeURL(t *testing.T) {
	p := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    "client-id",
		RedirectURL: "http://localhost:8080/auth/google/callback",
	})

	raw := p.AuthCodeURL("nonce-abc")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.HasPrefix(raw, defaultGoogleAuthURL) {
		t.Errorf("URL = %q, want prefix %q", raw, defaultGoogleAuthURL)
	}

	q := u.Query()
	checks := map[string]string{
		"state":         "nonce-abc",
		"client_id":     "client-id",
		"redirect_uri":  "http://localhost:8080/auth/google/callback",
		"response_type": "code",
		"scope":         "openid email profile",
		"access_type":   "online",
	}
	for key, want := range checks {
		if got := q.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestGoogleOAuthProvider_Name(t *testing.T) {
	p := NewGoogleOAuthProvider(GoogleOAuthConfig{})
	if p.Name() != "google" {
		t.Errorf("Name() = %q, want google", p.Name())
	}
	if len(p.Endpoints()) != 3 {
		t.Errorf("Endpoints() = %v, want 3 URLs", p.Endpoints())
	}
}

func TestGoogleOAuthProvider_Exchange(t *testing.T) {
	ts := newGoogleTestServer(t, http.StatusOK, map[string]string{
		"sub":   "123",
		"email": "ada@example.com",
		"name":  "Ada",
	})
	p := newTestGoogleProvider(ts)

	identity, err := p.Exchange(context.Background(), "good-code")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if identity.Subject != "123" || identity.Email != "ada@example.com" || identity.Name != "Ada" {
		t.Errorf("identity = %+v", identity)
	}
}

func TestGoogleOAuthProvider_ExchangeErrors(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		status   int
		userInfo map[string]string
	}{
		{"invalid grant", "bad-code", http.StatusOK, map[string]string{"sub": "123"}},
		{"userinfo failure", "good-code", http.StatusInternalServerError, map[string]string{}},
		{"empty subject", "good-code", http.StatusOK, map[string]string{"email": "ada@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newGoogleTestServer(t, tt.status, tt.userInfo)
			p := newTestGoogleProvider(ts)

			if _, err := p.Exchange(context.Background(), tt.code); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
