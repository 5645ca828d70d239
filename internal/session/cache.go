package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/superblog/internal/model"
)

// DefaultCacheTTL はキャッシュCookieのデフォルト有効期間。
const DefaultCacheTTL = 5 * time.Minute

// maxClockSkew はIssuedAtが未来を指していても許容する幅。
const maxClockSkew = 5 * time.Second

var (
	// ErrCacheMiss はキャッシュCookieが存在しないことを表す。
	ErrCacheMiss = errors.New("session: cache cookie not present")
	// ErrStaleView は署名は正しいが内容がセッションと矛盾するビューを表す。
	ErrStaleView = errors.New("session: inconsistent cached view")
)

// CachedView はキャッシュCookieに埋め込まれるセッション状態。
// ExpiresAtはSessionExpiresAtを超えない。
type CachedView struct {
	SessionID        string
	UserID           string
	UserName         string
	SessionExpiresAt time.Time
	IssuedAt         time.Time
	ExpiresAt        time.Time
}

type viewWire struct {
	SessionID        string `json:"sid"`
	UserID           string `json:"uid"`
	UserName         string `json:"name,omitempty"`
	SessionExpiresAt int64  `json:"sexp"`
	IssuedAt         int64  `json:"iat"`
	ExpiresAt        int64  `json:"exp"`
}

// Cache はセッション状態の短命な署名付きキャッシュをCookieで扱う。
// 検証に失敗したビューはすべてミスとして扱う。
type Cache struct {
	key []byte
	ttl time.Duration
	cfg CookieConfig
	now func() time.Time
}

// NewCache はキャッシュ用の鍵でCacheを生成する。ttlが0以下の場合はDefaultCacheTTLを使う。
func NewCache(key []byte, ttl time.Duration, cfg CookieConfig, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	o := applyOptions(opts)
	return &Cache{key: key, ttl: ttl, cfg: cfg.withDefaults(), now: o.now}
}

// TTL はキャッシュの有効期間を返す。
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// NewView は現在時刻を起点にセッションとユーザーからビューを組み立てる。
func (c *Cache) NewView(s *model.Session, userName string) CachedView {
	now := c.now().Truncate(time.Second)
	exp := now.Add(c.ttl)
	if s.ExpiresAt.Before(exp) {
		exp = s.ExpiresAt
	}
	return CachedView{
		SessionID:        s.ID,
		UserID:           s.UserID,
		UserName:         userName,
		SessionExpiresAt: s.ExpiresAt,
		IssuedAt:         now,
		ExpiresAt:        exp,
	}
}

// Read はキャッシュCookieを検証してビューを返す。
func (c *Cache) Read(r *http.Request) (CachedView, bool) {
	view, err := c.Lookup(r)
	return view, err == nil
}

// Lookup はReadと同じ検証を行い、ミスの理由をエラーで返す。
func (c *Cache) Lookup(r *http.Request) (CachedView, error) {
	cookie, err := r.Cookie(c.cfg.CacheName)
	if err != nil || cookie.Value == "" {
		return CachedView{}, ErrCacheMiss
	}

	payload, err := open(c.key, cookie.Value)
	if err != nil {
		return CachedView{}, err
	}

	var w viewWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return CachedView{}, ErrMalformed
	}
	if w.SessionID == "" || w.UserID == "" {
		return CachedView{}, ErrMalformed
	}

	view := CachedView{
		SessionID:        w.SessionID,
		UserID:           w.UserID,
		UserName:         w.UserName,
		SessionExpiresAt: time.Unix(w.SessionExpiresAt, 0).UTC(),
		IssuedAt:         time.Unix(w.IssuedAt, 0).UTC(),
		ExpiresAt:        time.Unix(w.ExpiresAt, 0).UTC(),
	}

	now := c.now()
	switch {
	case view.IssuedAt.After(now.Add(maxClockSkew)):
		return CachedView{}, ErrStaleView
	case view.ExpiresAt.After(view.SessionExpiresAt):
		return CachedView{}, ErrStaleView
	case view.ExpiresAt.Sub(view.IssuedAt) > c.ttl:
		return CachedView{}, ErrStaleView
	case !now.Before(view.ExpiresAt):
		return CachedView{}, ErrExpired
	case !now.Before(view.SessionExpiresAt):
		return CachedView{}, ErrExpired
	}
	return view, nil
}

// Write はビューを署名してキャッシュCookieにセットする。
// Max-Ageはビューの残り有効期間。
func (c *Cache) Write(w http.ResponseWriter, view CachedView) error {
	payload, err := json.Marshal(viewWire{
		SessionID:        view.SessionID,
		UserID:           view.UserID,
		UserName:         view.UserName,
		SessionExpiresAt: view.SessionExpiresAt.Unix(),
		IssuedAt:         view.IssuedAt.Unix(),
		ExpiresAt:        view.ExpiresAt.Unix(),
	})
	if err != nil {
		return err
	}
	remaining := view.ExpiresAt.Sub(c.now())
	http.SetCookie(w, c.cfg.cookie(c.cfg.CacheName, seal(c.key, payload), maxAgeSeconds(remaining)))
	return nil
}

// Invalidate はキャッシュCookieを削除する。
func (c *Cache) Invalidate(w http.ResponseWriter) {
	http.SetCookie(w, c.cfg.cookie(c.cfg.CacheName, "", -1))
}
