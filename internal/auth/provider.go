package auth

import (
	"context"
	"fmt"
	"sort"
)

// Identity はOAuthプロバイダーから取得したユーザー情報を表す。
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// Provider はOAuth認証プロバイダーのインターフェース。
type Provider interface {
	// Name はURLやaccounts.providerに使うプロバイダー名を返す。
	Name() string
	// AuthCodeURL はstateを埋め込んだ認可URLを生成する。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンに交換し、ユーザー情報を取得する。
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// Registry は名前でプロバイダーを引く。
type Registry map[string]Provider

// NewRegistry はプロバイダーの一覧からRegistryを生成する。名前の重複はエラー。
func NewRegistry(providers ...Provider) (Registry, error) {
	reg := make(Registry, len(providers))
	for _, p := range providers {
		if _, dup := reg[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate provider %q", p.Name())
		}
		reg[p.Name()] = p
	}
	return reg, nil
}

// Lookup は名前に対応するプロバイダーを返す。
func (r Registry) Lookup(name string) (Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names は登録済みのプロバイダー名をソートして返す。
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
