// Package users provisions the access keys the portal logs in with.
package users

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidDirectory reports an empty or malformed directory name.
	ErrInvalidDirectory = errors.New("users: invalid directory")
	// ErrInvalidRole reports a role the directory cannot hold.
	ErrInvalidRole = errors.New("users: role not allowed in this directory")
	// ErrKeyExists reports an attempt to issue a key that is already present.
	ErrKeyExists = errors.New("users: key already exists")
	// ErrKeyNotFound reports a key missing from the directory.
	ErrKeyNotFound = errors.New("users: key not found")
)

// ServiceConfig describes the dependencies required for key provisioning.
type ServiceConfig struct {
	Store  kvstore.Store
	Clock  func() time.Time
	NewKey func() string
	Logger *zap.Logger
}

// Service issues, lists and deactivates access keys under users/{directory}/{key}.
type Service struct {
	store  kvstore.Store
	now    func() time.Time
	newKey func() string
	logger *zap.Logger
}

// NewService constructs the key directory service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("users: store required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newKey := cfg.NewKey
	if newKey == nil {
		newKey = randomKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, now: clock, newKey: newKey, logger: logger}, nil
}

func randomKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IssueRequest describes a key to create. An empty Key is generated.
type IssueRequest struct {
	Directory string
	Role      classroom.Role
	Name      string
	Key       string
}

// Issue stores a new active key and returns it with its plaintext value.
func (s *Service) Issue(ctx context.Context, request IssueRequest) (Entry, error) {
	directory := normalize(request.Directory)
	if directory == "" {
		return Entry{}, ErrInvalidDirectory
	}
	role, ok := classroom.ParseRole(string(request.Role))
	if !ok || !slices.Contains(allowedRoles(directory), role) {
		return Entry{}, fmt.Errorf("%w: %q in %s", ErrInvalidRole, request.Role, directory)
	}
	key := normalize(request.Key)
	if key == "" {
		key = s.newKey()
	}
	path, err := kvstore.UserKeyPath(directory, key)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}

	existing, err := s.store.Get(ctx, path)
	if err != nil {
		return Entry{}, err
	}
	if found, _ := kvstore.Decode(existing, &storedEntry{}); found {
		return Entry{}, ErrKeyExists
	}

	entry := Entry{
		Directory:   directory,
		Key:         key,
		Fingerprint: auth.KeyFingerprint(key),
		Type:        string(role),
		Name:        normalize(request.Name),
		Active:      true,
		CreatedAt:   s.now().UnixMilli(),
	}
	if err := s.store.Set(ctx, path, entry); err != nil {
		return Entry{}, err
	}
	s.logger.Info("access key issued",
		zap.String("directory", directory),
		zap.String("role", string(role)),
		zap.String("fingerprint", entry.Fingerprint))
	return entry, nil
}

type storedEntry struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Active    *bool  `json:"active"`
	CreatedAt int64  `json:"createdAt"`
}

// List returns every key of directory ordered by name, then fingerprint.
func (s *Service) List(ctx context.Context, directory string) ([]Entry, error) {
	directory = normalize(directory)
	path, err := kvstore.UsersPath().Child(directory)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	stored := map[string]storedEntry{}
	if _, err := kvstore.Decode(raw, &stored); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(stored))
	for key, record := range stored {
		entries = append(entries, Entry{
			Directory:   directory,
			Key:         key,
			Fingerprint: auth.KeyFingerprint(key),
			Type:        record.Type,
			Name:        record.Name,
			Active:      record.Active == nil || *record.Active,
			CreatedAt:   record.CreatedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Fingerprint < entries[j].Fingerprint
	})
	return entries, nil
}

// Deactivate blocks a key without deleting it, so later logins fail with an invalid key.
func (s *Service) Deactivate(ctx context.Context, directory, key string) error {
	path, err := kvstore.UserKeyPath(normalize(directory), normalize(key))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return err
	}
	if found, _ := kvstore.Decode(raw, &storedEntry{}); !found {
		return ErrKeyNotFound
	}
	if err := s.store.Update(ctx, path, map[string]any{"active": false}); err != nil {
		return err
	}
	s.logger.Info("access key deactivated",
		zap.String("directory", normalize(directory)),
		zap.String("fingerprint", auth.KeyFingerprint(normalize(key))))
	return nil
}
