// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// MinAuthSecretLength はAUTH_SECRETに要求する最小バイト数。
const MinAuthSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	AuthSecret              string
	SessionTTL              time.Duration
	SessionUpdateAge        time.Duration
	SessionCacheTTL         time.Duration
	// SessionStrictRevocation がfalseの場合、キャッシュヒット時に失効状態を確認しない。
	// サインアウト後もキャッシュCookieを再送すれば最大SessionCacheTTLの間は認証が通るため、
	// サインアウトの即時反映は保証されなくなる。
	SessionStrictRevocation bool
	StoreTimeout            time.Duration
	SessionRetention        time.Duration
	CleanupInterval         time.Duration

	// Route Gate
	ProtectedRoutes []string
	SignInPath      string

	// Cookie
	SessionCookieName      string
	SessionCacheCookieName string
	CookieDomain           string
	CookiePath             string
	CookieSecure           bool

	// Rate Limit
	RateLimitAuth int // /auth/* への1分あたりのリクエスト数（クライアントIPごと）

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   string

	// CORS
	CORSAllowedOrigin string

	// Tracing
	OTelEndpoint string
}

// Error は設定の不足または不正を表す。起動時に致命的エラーとして扱う。
// 値そのものは秘密情報を含みうるため、変数名と理由だけを保持する。
type Error struct {
	Missing []string
	Invalid []string
}

func (e *Error) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("required environment variables are not set: %v", e.Missing))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid environment variables: %s", strings.Join(e.Invalid, "; ")))
	}
	return "config: " + strings.Join(parts, ", ")
}

// loader は読み込み中に見つかった問題を集める。
type loader struct {
	missing []string
	invalid []string
}

func (l *loader) required(key string) string {
	v := os.Getenv(key)
	if v == "" {
		l.missing = append(l.missing, key)
	}
	return v
}

func (l *loader) invalidf(key, format string, args ...any) {
	l.invalid = append(l.invalid, key+": "+fmt.Sprintf(format, args...))
}

func (l *loader) str(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (l *loader) int(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		l.invalidf(key, "must be a positive integer")
		return defaultVal
	}
	return i
}

func (l *loader) duration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		l.invalidf(key, "must be a positive duration such as 5m or 24h")
		return defaultVal
	}
	return d
}

func (l *loader) bool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.invalidf(key, "must be true or false")
		return defaultVal
	}
	return b
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数の不足と値の不正はまとめて*Errorとして返す。
func Load() (*Config, error) {
	l := &loader{}
	cfg := &Config{}

	// Required fields
	cfg.DatabaseURL = l.required("DATABASE_URL")
	cfg.GoogleClientID = l.required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = l.required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = l.required("GOOGLE_REDIRECT_URL")
	cfg.AuthSecret = l.required("AUTH_SECRET")
	cfg.BaseURL = l.required("BASE_URL")
	if raw := l.required("PROTECTED_ROUTES"); raw != "" {
		cfg.ProtectedRoutes = splitList(raw)
		if len(cfg.ProtectedRoutes) == 0 {
			l.invalidf("PROTECTED_ROUTES", "must contain at least one pattern")
		}
	}

	// Optional fields with defaults
	cfg.DBMaxOpenConns = l.int("DB_MAX_OPEN_CONNS", 20)
	cfg.DBMaxIdleConns = l.int("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = l.duration("DB_CONN_MAX_LIFETIME", 30*time.Minute)

	cfg.SessionTTL = l.duration("SESSION_TTL", 7*24*time.Hour)
	cfg.SessionUpdateAge = l.duration("SESSION_UPDATE_AGE", 24*time.Hour)
	cfg.SessionCacheTTL = l.duration("SESSION_CACHE_TTL", 5*time.Minute)
	cfg.SessionStrictRevocation = l.bool("SESSION_STRICT_REVOCATION", true)
	cfg.StoreTimeout = l.duration("STORE_TIMEOUT", 3*time.Second)
	cfg.SessionRetention = l.duration("SESSION_RETENTION", 30*24*time.Hour)
	cfg.CleanupInterval = l.duration("CLEANUP_INTERVAL", time.Hour)

	cfg.SignInPath = l.str("SIGN_IN_PATH", "/sign-in")

	cfg.SessionCookieName = l.str("SESSION_COOKIE_NAME", "session_token")
	cfg.SessionCacheCookieName = l.str("SESSION_CACHE_COOKIE_NAME", "session_data")
	cfg.CookieDomain = l.str("COOKIE_DOMAIN", "")
	cfg.CookiePath = l.str("COOKIE_PATH", "/")
	cfg.CookieSecure = l.bool("COOKIE_SECURE", !strings.HasPrefix(cfg.BaseURL, "http://"))

	cfg.RateLimitAuth = l.int("RATE_LIMIT_AUTH", 30)
	cfg.ServerPort = l.str("SERVER_PORT", "8080")
	cfg.LogLevel = l.str("LOG_LEVEL", "info")
	cfg.CORSAllowedOrigin = l.str("CORS_ALLOWED_ORIGIN", "")
	cfg.OTelEndpoint = l.str("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	cfg.validate(l)

	if len(l.missing) > 0 || len(l.invalid) > 0 {
		return nil, &Error{Missing: l.missing, Invalid: l.invalid}
	}
	return cfg, nil
}

// validate は値同士の整合性を検証する。未設定の必須項目は重ねて報告しない。
func (c *Config) validate(l *loader) {
	if c.DatabaseURL != "" && !strings.HasPrefix(c.DatabaseURL, "postgres://") && !strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		l.invalidf("DATABASE_URL", "must be a postgres:// or postgresql:// URL")
	}

	if c.AuthSecret != "" && len(c.AuthSecret) < MinAuthSecretLength {
		l.invalidf("AUTH_SECRET", "must be at least %d bytes", MinAuthSecretLength)
	}

	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			l.invalidf("BASE_URL", "must be an absolute http(s) URL")
		}
	}

	for _, p := range c.ProtectedRoutes {
		if !strings.HasPrefix(p, "/") {
			l.invalidf("PROTECTED_ROUTES", "pattern %q must start with /", p)
		}
	}

	if !strings.HasPrefix(c.SignInPath, "/") {
		l.invalidf("SIGN_IN_PATH", "must start with /")
	}
	if !strings.HasPrefix(c.CookiePath, "/") {
		l.invalidf("COOKIE_PATH", "must start with /")
	}

	if c.SessionCacheTTL >= c.SessionTTL {
		l.invalidf("SESSION_CACHE_TTL", "must be shorter than SESSION_TTL")
	}
	if c.SessionUpdateAge >= c.SessionTTL {
		l.invalidf("SESSION_UPDATE_AGE", "must be shorter than SESSION_TTL")
	}
	if c.SessionCookieName == c.SessionCacheCookieName {
		l.invalidf("SESSION_CACHE_COOKIE_NAME", "must differ from SESSION_COOKIE_NAME")
	}

	if c.CookieDomain != "" && isPublicSuffix(c.CookieDomain) {
		l.invalidf("COOKIE_DOMAIN", "%q is a public suffix", c.CookieDomain)
	}
}

// isPublicSuffix はドメインがパブリックサフィックス（com、co.uk、github.io等）そのものかどうかを返す。
// localhostのような単一ラベルのホストは許可する。
func isPublicSuffix(domain string) bool {
	d := strings.ToLower(strings.TrimPrefix(domain, "."))
	ps, icann := publicsuffix.PublicSuffix(d)
	if ps != d {
		return false
	}
	return icann || strings.Contains(d, ".")
}

// splitList はカンマ区切りの値を空要素を除いて分割する。
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
