package auth

import (
	"errors"
	"reflect"
	"testing"
)

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(&mockProvider{name: "google"}, &mockProvider{name: "github"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if got := reg.Names(); !reflect.DeepEqual(got, []string{"github", "google"}) {
		t.Errorf("Names() = %v", got)
	}

	p, err := reg.Lookup("google")
	if err != nil || p.Name() != "google" {
		t.Errorf("Lookup(google) = %v, %v", p, err)
	}

	if _, err := reg.Lookup("myspace"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("err = %v, want ErrUnknownProvider", err)
	}
}

func TestNewRegistry_DuplicateName(t *testing.T) {
	_, err := NewRegistry(&mockProvider{name: "google"}, &mockProvider{name: "google"})
	if err == nil {
		t.Fatal("expected error for duplicate provider names")
	}
}

func TestUnauthenticatedReason(t *testing.T) {
	err := unauthenticated("expired")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Error("UnauthenticatedError must match ErrUnauthenticated")
	}
	if UnauthenticatedReason(err) != "expired" {
		t.Errorf("reason = %q", UnauthenticatedReason(err))
	}
	if UnauthenticatedReason(errors.New("boom")) != "" {
		t.Error("unrelated errors have no reason")
	}
}
