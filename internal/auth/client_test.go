package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/localstore"
)

func TestClientLoginRoundTrip(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != LoginRoute || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var request LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if request.Key != "elder-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": CodeRoleMismatch})
			return
		}
		_ = json.NewEncoder(w).Encode(LoginResponse{
			AccessToken: "token-1",
			ExpiresIn:   60,
			TokenType:   "Bearer",
			Session:     Session{Role: classroom.RoleElder, UserType: UserTypeClass, Class: request.Class},
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, 0)
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}

	response, err := client.Login(context.Background(), LoginRequest{Class: "10-M", Role: classroom.RoleElder, Key: "elder-key"})
	if err != nil {
		t.Fatalf("unexpected login error: %v", err)
	}
	if response.AccessToken != "token-1" || response.Session.Key != "elder-key" || response.Session.Class != "10-M" {
		t.Fatalf("unexpected response %+v", response)
	}

	_, err = client.Login(context.Background(), LoginRequest{Class: "10-M", Role: classroom.RoleElder, Key: "student-key"})
	if !errors.Is(err, ErrRoleMismatch) {
		t.Fatalf("expected role mismatch, got %v", err)
	}

	_, err = client.Login(context.Background(), LoginRequest{Class: "10-M", Role: classroom.RoleElder})
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected local validation error, got %v", err)
	}
	if requests != 2 {
		t.Fatalf("expected two remote requests, got %d", requests)
	}
}

func TestClientLoginUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewClient(url, 0)
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	_, err = client.Login(context.Background(), LoginRequest{Class: "10-M", Role: classroom.RoleElder, Key: "k"})
	if !kvstore.IsUnavailable(err) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestLoginErrorCodes(t *testing.T) {
	if LoginErrorCode(ErrInvalidKey) != CodeInvalidKey {
		t.Fatalf("unexpected code for invalid key")
	}
	if LoginErrorCode(errors.New("boom")) != CodeUnavailable {
		t.Fatalf("unknown errors map to the unavailable code")
	}
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	storage := localstore.NewMemoryStorage()
	credentials := NewCredentialStore(storage)

	loaded, err := credentials.Load()
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if loaded.Complete() {
		t.Fatalf("empty storage must not yield complete credentials")
	}

	saved := Credentials{Key: "elder-key", Class: "10-M", Role: classroom.RoleElder, Token: "jwt"}
	if err := credentials.Save(saved); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
	value, _, _ := storage.GetItem("school_last_role")
	if value != "elder" {
		t.Fatalf("unexpected stored role %q", value)
	}
	loaded, err = credentials.Load()
	if err != nil || loaded != saved {
		t.Fatalf("unexpected credentials %+v (%v)", loaded, err)
	}
	if loaded.Request().Key != "elder-key" {
		t.Fatalf("unexpected request %+v", loaded.Request())
	}

	session := Session{Key: "elder-key", Role: classroom.RoleElder, UserType: UserTypeClass, Class: "10-M", DisplayName: "Староста"}
	if err := credentials.SaveSession(session); err != nil {
		t.Fatalf("unexpected session save error: %v", err)
	}
	raw, _, _ := storage.GetItem("school_session")
	if strings.Contains(raw, "elder-key") {
		t.Fatalf("the stored session must not contain the key: %s", raw)
	}
	restored, err := credentials.LoadSession()
	if err != nil || restored == nil {
		t.Fatalf("unexpected session load %+v (%v)", restored, err)
	}
	session.Key = ""
	if *restored != session {
		t.Fatalf("unexpected restored session %+v", *restored)
	}

	if err := credentials.Clear(); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}
	keys, _ := storage.Keys()
	if len(keys) != 0 {
		t.Fatalf("expected storage to be empty, got %v", keys)
	}
}
