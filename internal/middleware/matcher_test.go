package middleware

import "testing"

func TestRouteMatcher_Match(t *testing.T) {
	m := mustMatcher(t, "/posts/new", "/posts/*/edit", "/admin/**", " /settings ")

	tests := []struct {
		path string
		want bool
	}{
		{"/posts/new", true},
		{"/posts/new/", true},
		{"/posts/./new", true},
		{"/posts", false},
		{"/posts/42/edit", true},
		{"/posts/42/edit/extra", false},
		{"/posts/42", false},
		{"/admin", true},
		{"/admin/", true},
		{"/admin/users/1", true},
		{"/administrator", false},
		{"/settings", true},
		{"/public/../admin/users", true},
		{"/", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := m.Match(tt.path); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestRouteMatcher_RootSubtreeMatchesEverything(t *testing.T) {
	m := mustMatcher(t, "/**")
	for _, p := range []string{"/", "/a", "/a/b/c"} {
		if !m.Match(p) {
			t.Errorf("Match(%q) = false, want true", p)
		}
	}
}

func TestNewRouteMatcher_InvalidPatterns(t *testing.T) {
	for _, p := range []string{"posts/new", "/posts/[", "admin/**"} {
		if _, err := NewRouteMatcher([]string{p}); err == nil {
			t.Errorf("NewRouteMatcher(%q) succeeded, want error", p)
		}
	}
}

func TestRouteMatcher_BlankPatternsMatchNothing(t *testing.T) {
	m := mustMatcher(t, "", "  ")
	for _, p := range []string{"/", "/x", ""} {
		if m.Match(p) {
			t.Errorf("Match(%q) = true, blank patterns must be ignored", p)
		}
	}
}
