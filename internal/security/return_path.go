package security

import (
	"net/url"
	"strings"
)

// SafeReturnPath はサインイン後の戻り先として安全な同一オリジンのパスだけを返す。
// 絶対URL、スキーム相対URL（//host）、バックスラッシュを含むものはfallbackに置き換える。
func SafeReturnPath(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return fallback
	}
	if strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n\t") {
		return fallback
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return fallback
	}
	return u.RequestURI()
}
