package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"go.uber.org/zap"
)

// AdministrationDirectory is the users directory holding administration keys.
const AdministrationDirectory = "administration"

var (
	// ErrMissingKey reports an empty access key.
	ErrMissingKey = errors.New("auth: access key is required")
	// ErrMissingSelection reports a login attempted before choosing class and role.
	ErrMissingSelection = errors.New("auth: class and role must be selected")
	// ErrInvalidKey reports an unknown or deactivated key.
	ErrInvalidKey = errors.New("auth: invalid or blocked key")
	// ErrRoleMismatch reports a class key used with a role other than its own.
	ErrRoleMismatch = errors.New("auth: key does not match the selected role")

	errMissingStore = errors.New("auth: store is required")
)

// LoginRequest is what the key entry screen collects.
type LoginRequest struct {
	Class string         `json:"class"`
	Role  classroom.Role `json:"role"`
	Key   string         `json:"key"`
}

// Validate rejects incomplete requests before any remote call.
func (r LoginRequest) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return ErrMissingKey
	}
	if strings.TrimSpace(r.Class) == "" || strings.TrimSpace(string(r.Role)) == "" {
		return ErrMissingSelection
	}
	return nil
}

type userRecord struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Active *bool  `json:"active"`
}

func (u userRecord) active() bool {
	return u.Active == nil || *u.Active
}

// AuthenticatorConfig wires an Authenticator.
type AuthenticatorConfig struct {
	Store  kvstore.Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Authenticator checks access keys against the users directory of the store.
type Authenticator struct {
	store  kvstore.Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewAuthenticator validates cfg and builds an Authenticator.
func NewAuthenticator(cfg AuthenticatorConfig) (*Authenticator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{store: cfg.Store, clock: clock, logger: logger}, nil
}

// Login resolves the key to a session. Administration keys win over class keys and
// ignore the selected role; class keys must match the selected role.
func (a *Authenticator) Login(ctx context.Context, request LoginRequest) (Session, error) {
	request.Key = strings.TrimSpace(request.Key)
	request.Class = strings.TrimSpace(request.Class)
	if err := request.Validate(); err != nil {
		return Session{}, err
	}

	adminRecord, found, err := a.lookup(ctx, AdministrationDirectory, request.Key)
	if err != nil {
		return Session{}, err
	}
	if found {
		if !adminRecord.active() {
			return Session{}, ErrInvalidKey
		}
		role, ok := classroom.ParseRole(adminRecord.Type)
		if !ok {
			role = classroom.RoleAdmin
		}
		return a.session(request, adminRecord, role, UserTypeAdmin), nil
	}

	classRecord, found, err := a.lookup(ctx, request.Class, request.Key)
	if err != nil {
		return Session{}, err
	}
	if !found || !classRecord.active() {
		return Session{}, ErrInvalidKey
	}
	if classroom.Role(classRecord.Type) != request.Role {
		return Session{}, fmt.Errorf("%w %q", ErrRoleMismatch, request.Role.DisplayName())
	}
	return a.session(request, classRecord, request.Role, UserTypeClass), nil
}

func (a *Authenticator) lookup(ctx context.Context, directory, key string) (userRecord, bool, error) {
	path, err := kvstore.UserKeyPath(directory, key)
	if err != nil {
		return userRecord{}, false, ErrInvalidKey
	}
	raw, err := a.store.Get(ctx, path)
	if err != nil {
		a.logger.Error("access key lookup failed",
			zap.String("operation", "auth.login"),
			zap.String("directory", directory),
			zap.Error(err))
		return userRecord{}, false, err
	}
	var record userRecord
	found, err := kvstore.Decode(raw, &record)
	if err != nil {
		return userRecord{}, false, ErrInvalidKey
	}
	return record, found, nil
}

func (a *Authenticator) session(request LoginRequest, record userRecord, role classroom.Role, userType UserType) Session {
	displayName := strings.TrimSpace(record.Name)
	if displayName == "" {
		displayName = role.DisplayName()
	}
	return Session{
		Key:         request.Key,
		Role:        role,
		UserType:    userType,
		Class:       request.Class,
		DisplayName: displayName,
		LoginTime:   a.clock().UnixMilli(),
	}
}
