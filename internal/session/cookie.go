package session

import (
	"net/http"
	"time"
)

// デフォルトのCookie名。
const (
	DefaultTokenCookieName = "session_token"
	DefaultCacheCookieName = "session_data"
	StateCookieName        = "oauth_state"
)

// CookieConfig はセッション関連Cookieの属性。
// すべてのCookieはHttpOnlyかつSameSite=Laxで発行される。
type CookieConfig struct {
	TokenName string
	CacheName string
	Domain    string
	Path      string
	Secure    bool
}

func (c CookieConfig) withDefaults() CookieConfig {
	if c.TokenName == "" {
		c.TokenName = DefaultTokenCookieName
	}
	if c.CacheName == "" {
		c.CacheName = DefaultCacheCookieName
	}
	if c.Path == "" {
		c.Path = "/"
	}
	return c
}

func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// maxAgeSeconds は残り有効期間をMax-Age秒に変換する。最小1秒。
func maxAgeSeconds(remaining time.Duration) int {
	secs := int(remaining / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Cookie は単一の値を保持するCookieを読み書きする。
type Cookie struct {
	name string
	cfg  CookieConfig
}

// NewTokenCookie はセッショントークン用のCookieを生成する。
func NewTokenCookie(cfg CookieConfig) *Cookie {
	cfg = cfg.withDefaults()
	return &Cookie{name: cfg.TokenName, cfg: cfg}
}

// NewStateCookie はOAuthのstateトークン用のCookieを生成する。
func NewStateCookie(cfg CookieConfig) *Cookie {
	cfg = cfg.withDefaults()
	return &Cookie{name: StateCookieName, cfg: cfg}
}

// Name はCookie名を返す。
func (c *Cookie) Name() string {
	return c.name
}

// Read はリクエストからCookieの値を取り出す。
func (c *Cookie) Read(r *http.Request) (string, bool) {
	ck, err := r.Cookie(c.name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}

// Write はCookieをセットする。Max-Ageは値の残り有効期間。
func (c *Cookie) Write(w http.ResponseWriter, value string, remaining time.Duration) {
	http.SetCookie(w, c.cfg.cookie(c.name, value, maxAgeSeconds(remaining)))
}

// Clear はCookieを削除する。
func (c *Cookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cfg.cookie(c.name, "", -1))
}
