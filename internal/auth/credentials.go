package auth

import (
	"encoding/json"
	"fmt"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/localstore"
)

const (
	lastKeyStorageKey   = "school_last_key"
	lastClassStorageKey = "school_last_class"
	lastRoleStorageKey  = "school_last_role"
	tokenStorageKey     = "school_session_token"
	sessionStorageKey   = "school_session"
)

// Credentials are the last-used login inputs kept for quick re-login.
type Credentials struct {
	Key   string
	Class string
	Role  classroom.Role
	Token string
}

// Complete reports whether the credentials are enough for a quick re-login.
func (c Credentials) Complete() bool {
	return c.Key != "" && c.Class != "" && c.Role != ""
}

// Request rebuilds the login request the credentials came from.
func (c Credentials) Request() LoginRequest {
	return LoginRequest{Class: c.Class, Role: c.Role, Key: c.Key}
}

// CredentialStore persists Credentials in local storage.
type CredentialStore struct {
	storage localstore.Storage
}

// NewCredentialStore wraps storage.
func NewCredentialStore(storage localstore.Storage) *CredentialStore {
	return &CredentialStore{storage: storage}
}

// Save stores every field of credentials; an empty token removes the stored one.
func (s *CredentialStore) Save(credentials Credentials) error {
	values := []struct {
		key   string
		value string
	}{
		{lastKeyStorageKey, credentials.Key},
		{lastClassStorageKey, credentials.Class},
		{lastRoleStorageKey, string(credentials.Role)},
	}
	for _, entry := range values {
		if err := s.storage.SetItem(entry.key, entry.value); err != nil {
			return err
		}
	}
	if credentials.Token == "" {
		return s.storage.RemoveItem(tokenStorageKey)
	}
	return s.storage.SetItem(tokenStorageKey, credentials.Token)
}

// Load returns whatever credentials are stored; missing fields are empty.
func (s *CredentialStore) Load() (Credentials, error) {
	var credentials Credentials
	fields := []struct {
		key    string
		target *string
	}{
		{lastKeyStorageKey, &credentials.Key},
		{lastClassStorageKey, &credentials.Class},
		{tokenStorageKey, &credentials.Token},
	}
	for _, field := range fields {
		value, _, err := s.storage.GetItem(field.key)
		if err != nil {
			return Credentials{}, err
		}
		*field.target = value
	}
	role, _, err := s.storage.GetItem(lastRoleStorageKey)
	if err != nil {
		return Credentials{}, err
	}
	credentials.Role = classroom.Role(role)
	return credentials, nil
}

// Clear forgets every stored credential.
func (s *CredentialStore) Clear() error {
	for _, key := range []string{lastKeyStorageKey, lastClassStorageKey, lastRoleStorageKey, tokenStorageKey, sessionStorageKey} {
		if err := s.storage.RemoveItem(key); err != nil {
			return err
		}
	}
	return nil
}

// SaveSession remembers the last session so the portal can work offline. The key is not stored.
func (s *CredentialStore) SaveSession(session Session) error {
	encoded, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.storage.SetItem(sessionStorageKey, string(encoded))
}

// LoadSession returns the remembered session, or nil when there is none.
// The caller supplies Key from the saved credentials.
func (s *CredentialStore) LoadSession() (*Session, error) {
	value, found, err := s.storage.GetItem(sessionStorageKey)
	if err != nil || !found || value == "" {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal([]byte(value), &session); err != nil {
		return nil, fmt.Errorf("auth: stored session unreadable: %w", err)
	}
	return &session, nil
}
