package auth

import (
	"errors"
	"testing"
	"time"
)

func TestStateIssuer_RoundTrip(t *testing.T) {
	now := baseTime
	issuer := NewStateIssuer([]byte("state-key-state-key-state-key-32"), 0, func() time.Time { return now })

	if issuer.TTL() != DefaultStateTTL {
		t.Errorf("TTL() = %v, want %v", issuer.TTL(), DefaultStateTTL)
	}

	token, nonce, err := issuer.Issue("google", "/drafts")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if nonce == "" || token == "" {
		t.Fatal("expected token and nonce")
	}

	returnTo, err := issuer.Verify(token, "google", nonce)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if returnTo != "/drafts" {
		t.Errorf("returnTo = %q, want /drafts", returnTo)
	}
}

func TestStateIssuer_NoncesAreUnique(t *testing.T) {
	issuer := NewStateIssuer([]byte("state-key-state-key-state-key-32"), time.Minute, nil)
	_, a, _ := issuer.Issue("google", "/")
	_, b, _ := issuer.Issue("google", "/")
	if a == b {
		t.Error("nonces must differ between sign-in attempts")
	}
}

func TestStateIssuer_Rejects(t *testing.T) {
	now := baseTime
	clock := func() time.Time { return now }
	issuer := NewStateIssuer([]byte("state-key-state-key-state-key-32"), time.Minute, clock)
	other := NewStateIssuer([]byte("another-key-another-key-another!"), time.Minute, clock)

	token, nonce, err := issuer.Issue("google", "/")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	foreign, foreignNonce, _ := other.Issue("google", "/")

	tests := []struct {
		name     string
		token    string
		provider string
		state    string
		advance  time.Duration
	}{
		{"empty state", token, "google", "", 0},
		{"empty token", "", "google", nonce, 0},
		{"wrong nonce", token, "google", "other-nonce", 0},
		{"wrong provider", token, "github", nonce, 0},
		{"foreign key", foreign, "google", foreignNonce, 0},
		{"malformed token", "abc.def.ghi", "google", nonce, 0},
		{"expired", token, "google", nonce, time.Minute + time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now = baseTime.Add(tt.advance)
			defer func() { now = baseTime }()

			_, err := issuer.Verify(tt.token, tt.provider, tt.state)
			if !errors.Is(err, ErrCallbackStateMismatch) {
				t.Errorf("err = %v, want ErrCallbackStateMismatch", err)
			}
		})
	}
}
