// Package session はセッショントークンの署名・検証と、Cookieに埋め込む
// 短命なセッションキャッシュを提供する。
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrBadSignature は署名が一致しないトークンを表す。
	ErrBadSignature = errors.New("session: bad signature")
	// ErrExpired は署名は正しいが有効期限を過ぎたトークンを表す。
	ErrExpired = errors.New("session: token expired")
	// ErrMalformed は形式として解釈できないトークンを表す。
	ErrMalformed = errors.New("session: malformed token")
)

// macLength はbase64url（パディングなし）でエンコードしたHMAC-SHA256の長さ。
var macLength = base64.RawURLEncoding.EncodedLen(sha256.Size)

// Reason はエラーをログやメトリクスのラベルに使う文字列に変換する。
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}

// Option はCodecとCacheの生成オプション。
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock は有効期限の判定に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Claims はセッショントークンに含まれる情報。
// 時刻は秒精度で保持される。
type Claims struct {
	SessionID string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type claimsWire struct {
	SessionID string `json:"sid"`
	UserID    string `json:"uid"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// Codec はセッショントークンのエンコードとデコードを行う。
type Codec struct {
	key []byte
	now func() time.Time
}

// NewCodec はセッショントークン用の鍵でCodecを生成する。
func NewCodec(key []byte, opts ...Option) *Codec {
	o := applyOptions(opts)
	return &Codec{key: key, now: o.now}
}

// Encode はClaimsを署名付きトークンに変換する。
func (c *Codec) Encode(claims Claims) (string, error) {
	if claims.SessionID == "" || claims.UserID == "" {
		return "", errors.New("session: claims require session and user IDs")
	}
	if !claims.ExpiresAt.After(claims.IssuedAt) {
		return "", errors.New("session: expiry must be after issue time")
	}

	payload, err := json.Marshal(claimsWire{
		SessionID: claims.SessionID,
		UserID:    claims.UserID,
		IssuedAt:  claims.IssuedAt.Unix(),
		ExpiresAt: claims.ExpiresAt.Unix(),
	})
	if err != nil {
		return "", err
	}
	return seal(c.key, payload), nil
}

// Decode はトークンを検証してClaimsを取り出す。
// 署名の検証を有効期限の判定より先に行う。
func (c *Codec) Decode(token string) (Claims, error) {
	payload, err := open(c.key, token)
	if err != nil {
		return Claims{}, err
	}

	var w claimsWire
	if err := json.Unmarshal(payload, &w); err != nil {
		return Claims{}, ErrMalformed
	}
	if w.SessionID == "" || w.UserID == "" || w.ExpiresAt <= w.IssuedAt {
		return Claims{}, ErrMalformed
	}

	claims := Claims{
		SessionID: w.SessionID,
		UserID:    w.UserID,
		IssuedAt:  time.Unix(w.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(w.ExpiresAt, 0).UTC(),
	}
	if !c.now().Before(claims.ExpiresAt) {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

// seal は payload を base64url(payload) + "." + base64url(HMAC) に変換する。
// MACは区切り文字を含む先行部分全体を対象とする。
func seal(key, payload []byte) string {
	signed := base64.RawURLEncoding.EncodeToString(payload) + "."
	return signed + mac(key, signed)
}

// open はトークンの形式と署名を検証し、payloadを返す。
// MACは固定長のため、区切り文字の位置に依存せず末尾から切り出す。
func open(key []byte, token string) ([]byte, error) {
	if len(token) < macLength+2 {
		return nil, ErrMalformed
	}

	signed, sig := token[:len(token)-macLength], token[len(token)-macLength:]
	if !hmac.Equal([]byte(sig), []byte(mac(key, signed))) {
		return nil, ErrBadSignature
	}

	encoded, ok := strings.CutSuffix(signed, ".")
	if !ok || encoded == "" {
		return nil, ErrMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformed
	}
	return payload, nil
}

func mac(key []byte, signed string) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(signed))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
