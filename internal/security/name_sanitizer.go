package security

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameLength は表示名の最大文字数。users.nameの列長に合わせる。
const MaxDisplayNameLength = 255

// NameSanitizer はプロバイダーから受け取った表示名を保存前に無害化する。
// マークアップはすべて除去し、制御文字を取り除いて長さを制限する。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はStrictPolicyのNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は表示名を無害化する。同一入力には常に同一出力を返す。
func (s *NameSanitizer) Sanitize(name string) string {
	cleaned := s.policy.Sanitize(name)
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	cleaned = strings.Join(strings.Fields(cleaned), " ")

	if utf8.RuneCountInString(cleaned) > MaxDisplayNameLength {
		runes := []rune(cleaned)
		cleaned = string(runes[:MaxDisplayNameLength])
	}
	return cleaned
}
