package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength は署名用シークレットの最小バイト長。
const MinSecretLength = 32

// ErrWeakSecret はシークレットが短すぎる場合に返される。
var ErrWeakSecret = errors.New("session: secret must be at least 32 bytes")

// Keys は用途ごとに分離された署名鍵。
// ある用途で発行したトークンは他の用途の鍵では検証できない。
type Keys struct {
	Session []byte
	Cache   []byte
	State   []byte
}

// DeriveKeys はプロセス共通のシークレットからHKDF-SHA256で用途別の鍵を導出する。
func DeriveKeys(secret []byte) (Keys, error) {
	if len(secret) < MinSecretLength {
		return Keys{}, ErrWeakSecret
	}

	derive := func(info string) ([]byte, error) {
		key := make([]byte, sha256.Size)
		r := hkdf.New(sha256.New, secret, nil, []byte("superblog/"+info))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("failed to derive %s key: %w", info, err)
		}
		return key, nil
	}

	var (
		keys Keys
		err  error
	)
	if keys.Session, err = derive("session-token"); err != nil {
		return Keys{}, err
	}
	if keys.Cache, err = derive("session-cache"); err != nil {
		return Keys{}, err
	}
	if keys.State, err = derive("oauth-state"); err != nil {
		return Keys{}, err
	}
	return keys, nil
}
