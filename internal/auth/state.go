package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultStateTTL はサインイン開始からコールバックまでの猶予。
const DefaultStateTTL = 10 * time.Minute

const stateIssuer = "superblog"

// stateClaims はstate Cookieに保存するJWTのクレーム。IDにnonceを入れる。
type stateClaims struct {
	Provider string `json:"prv"`
	ReturnTo string `json:"rto"`
	jwt.RegisteredClaims
}

// StateIssuer はOAuthのstateトークンを発行・検証する。
// プロバイダーに渡すstateはnonceで、JWT本体はCookieに保持する。
type StateIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateIssuer はHS256で署名するStateIssuerを生成する。
func NewStateIssuer(key []byte, ttl time.Duration, now func() time.Time) *StateIssuer {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	if now == nil {
		now = time.Now
	}
	return &StateIssuer{key: key, ttl: ttl, now: now}
}

// TTL はstateトークンの有効期間を返す。
func (s *StateIssuer) TTL() time.Duration {
	return s.ttl
}

// Issue はnonceを生成し、それを含む署名済みトークンを返す。
func (s *StateIssuer) Issue(provider, returnTo string) (token, nonce string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate state nonce: %w", err)
	}
	nonce = base64.RawURLEncoding.EncodeToString(b)

	now := s.now()
	claims := stateClaims{
		Provider: provider,
		ReturnTo: returnTo,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign state: %w", err)
	}
	return token, nonce, nil
}

// Verify はCookieのトークンとクエリのstateを照合し、戻り先パスを返す。
// 不一致や期限切れはすべてErrCallbackStateMismatchになる。
func (s *StateIssuer) Verify(token, provider, state string) (string, error) {
	if token == "" || state == "" {
		return "", ErrCallbackStateMismatch
	}

	var claims stateClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: state expired", ErrCallbackStateMismatch)
		}
		return "", fmt.Errorf("%w: %v", ErrCallbackStateMismatch, err)
	}

	if subtle.ConstantTimeCompare([]byte(claims.ID), []byte(state)) != 1 {
		return "", fmt.Errorf("%w: nonce differs", ErrCallbackStateMismatch)
	}
	if claims.Provider != provider {
		return "", fmt.Errorf("%w: provider differs", ErrCallbackStateMismatch)
	}
	return claims.ReturnTo, nil
}
