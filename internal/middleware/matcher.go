package middleware

import (
	"fmt"
	"path"
	"strings"
)

// RouteMatcher は保護対象のパスパターンを保持する。
//
// パターンは次の3種類:
//   - 完全一致: /posts/new
//   - path.Matchのグロブ: /posts/*/edit
//   - 末尾が /** のサブツリー: /admin/** は /admin 自身と配下すべてに一致する
type RouteMatcher struct {
	exact    map[string]struct{}
	globs    []string
	subtrees []string
}

// NewRouteMatcher はパターンを検証してRouteMatcherを生成する。
func NewRouteMatcher(patterns []string) (*RouteMatcher, error) {
	m := &RouteMatcher{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("route pattern %q must start with /", p)
		}

		if prefix, ok := strings.CutSuffix(p, "/**"); ok {
			if prefix == "" {
				prefix = "/"
			}
			m.subtrees = append(m.subtrees, path.Clean(prefix))
			continue
		}
		if strings.ContainsAny(p, "*?[") {
			if _, err := path.Match(p, ""); err != nil {
				return nil, fmt.Errorf("invalid route pattern %q: %w", p, err)
			}
			m.globs = append(m.globs, p)
			continue
		}
		m.exact[path.Clean(p)] = struct{}{}
	}
	return m, nil
}

// Match はパスがいずれかのパターンに一致するかを返す。
// パスは正規化してから比較するため、末尾スラッシュや ../ による回避はできない。
func (m *RouteMatcher) Match(urlPath string) bool {
	if urlPath == "" {
		urlPath = "/"
	}
	p := path.Clean(urlPath)

	if _, ok := m.exact[p]; ok {
		return true
	}
	for _, prefix := range m.subtrees {
		if prefix == "/" || p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	for _, g := range m.globs {
		if ok, _ := path.Match(g, p); ok {
			return true
		}
	}
	return false
}
