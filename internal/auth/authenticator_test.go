package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
)

func newSeededAuthenticator(t *testing.T) (*Authenticator, *kvstore.MemoryStore) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	err := store.Seed(map[string]any{
		"users": map[string]any{
			"administration": map[string]any{
				"root-key":    map[string]any{"type": "admin", "name": "Директор"},
				"retired-key": map[string]any{"type": "admin", "active": false},
			},
			"10-M": map[string]any{
				"elder-key":   map[string]any{"type": "elder"},
				"student-key": map[string]any{"type": "student", "active": true},
				"blocked-key": map[string]any{"type": "student", "active": false},
				"retired-key": map[string]any{"type": "student"},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
	authenticator, err := NewAuthenticator(AuthenticatorConfig{
		Store: store,
		Clock: func() time.Time { return time.UnixMilli(1700000000000) },
	})
	if err != nil {
		t.Fatalf("failed to construct authenticator: %v", err)
	}
	return authenticator, store
}

func TestLoginAdministrationKey(t *testing.T) {
	authenticator, _ := newSeededAuthenticator(t)
	session, err := authenticator.Login(context.Background(), LoginRequest{Class: "11-A", Role: classroom.RoleStudent, Key: " root-key "})
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if session.UserType != UserTypeAdmin || session.Role != classroom.RoleAdmin {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.EffectiveClass() != "11-A" || session.DisplayName != "Директор" {
		t.Fatalf("unexpected session %+v", session)
	}
	if session.LoginTime != 1700000000000 || session.Key != "root-key" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestLoginClassKey(t *testing.T) {
	authenticator, _ := newSeededAuthenticator(t)
	session, err := authenticator.Login(context.Background(), LoginRequest{Class: "10-M", Role: classroom.RoleElder, Key: "elder-key"})
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if session.UserType != UserTypeClass || session.Class != "10-M" || session.DisplayName != "Староста" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestLoginRejections(t *testing.T) {
	authenticator, _ := newSeededAuthenticator(t)
	cases := []struct {
		name    string
		request LoginRequest
		want    error
	}{
		{"empty key", LoginRequest{Class: "10-M", Role: classroom.RoleStudent}, ErrMissingKey},
		{"missing class", LoginRequest{Role: classroom.RoleStudent, Key: "student-key"}, ErrMissingSelection},
		{"missing role", LoginRequest{Class: "10-M", Key: "student-key"}, ErrMissingSelection},
		{"wrong role", LoginRequest{Class: "10-M", Role: classroom.RoleElder, Key: "student-key"}, ErrRoleMismatch},
		{"blocked", LoginRequest{Class: "10-M", Role: classroom.RoleStudent, Key: "blocked-key"}, ErrInvalidKey},
		{"unknown", LoginRequest{Class: "10-M", Role: classroom.RoleStudent, Key: "nope"}, ErrInvalidKey},
		{"other class", LoginRequest{Class: "11-A", Role: classroom.RoleElder, Key: "elder-key"}, ErrInvalidKey},
		{"inactive admin shadows class key", LoginRequest{Class: "10-M", Role: classroom.RoleStudent, Key: "retired-key"}, ErrInvalidKey},
		{"unsafe key", LoginRequest{Class: "10-M", Role: classroom.RoleStudent, Key: "a/b"}, ErrInvalidKey},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := authenticator.Login(context.Background(), testCase.request)
			if !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestLoginValidatesBeforeRemoteCall(t *testing.T) {
	authenticator, store := newSeededAuthenticator(t)
	calls := 0
	store.SetFailure(func(kvstore.Operation, kvstore.Path) error {
		calls++
		return kvstore.ErrUnavailable
	})

	if _, err := authenticator.Login(context.Background(), LoginRequest{Class: "10-M", Role: classroom.RoleStudent}); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("validation errors must not reach the store")
	}

	_, err := authenticator.Login(context.Background(), LoginRequest{Class: "10-M", Role: classroom.RoleStudent, Key: "student-key"})
	if !kvstore.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}
