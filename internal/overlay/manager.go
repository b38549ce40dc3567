package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"go.uber.org/zap"
)

// ActiveEvent is the shared pointer stored at events/active.
type ActiveEvent struct {
	Name        string `json:"name"`
	ActivatedAt int64  `json:"activatedAt"`
	ActivatedBy string `json:"activatedBy"`
}

// ManagerConfig wires a Manager.
type ManagerConfig struct {
	Registry *Registry
	Store    kvstore.Store
	Surface  Surface
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Manager owns the single active overlay of this client and mirrors it to events/active.
type Manager struct {
	registry *Registry
	store    kvstore.Store
	surface  Surface
	clock    func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	current Overlay
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Registry == nil {
		return nil, errors.New("overlay: registry is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("overlay: store is required")
	}
	if cfg.Surface == nil {
		return nil, errors.New("overlay: surface is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		registry: cfg.Registry,
		store:    cfg.Store,
		surface:  cfg.Surface,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Activate replaces the running overlay with name and publishes the pointer. Admin-only
// overlays need the admin role. When only the pointer write fails the overlay keeps
// running locally and the write error is returned.
func (m *Manager) Activate(ctx context.Context, name string, role classroom.Role) error {
	constructor, ok := m.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOverlay, name)
	}
	candidate := constructor()
	if candidate.RequiresAdmin() && role != classroom.RoleAdmin {
		return ErrAdminRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		if err := m.deactivateLocked(ctx); err != nil {
			m.logger.Warn("previous overlay left the pointer behind",
				zap.String("overlay", name),
				zap.Error(err))
		}
	}
	if err := candidate.Activate(ctx, m.surface, m.store); err != nil {
		m.logger.Error("overlay activation failed",
			zap.String("operation", "overlay.activate"),
			zap.String("overlay", name),
			zap.Error(err))
		return fmt.Errorf("overlay: activate %s: %w", name, err)
	}
	m.current = candidate

	pointer := ActiveEvent{Name: name, ActivatedAt: m.clock().UnixMilli(), ActivatedBy: string(role)}
	if err := m.store.Set(ctx, kvstore.EventActivePath(), pointer); err != nil {
		m.logger.Warn("overlay running locally, pointer not saved",
			zap.String("overlay", name),
			zap.Error(err))
		return fmt.Errorf("overlay: publish %s: %w", name, err)
	}
	m.logger.Info("overlay activated", zap.String("overlay", name), zap.String("role", string(role)))
	return nil
}

// Deactivate stops the running overlay and clears the pointer. Without one it does nothing.
func (m *Manager) Deactivate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked(ctx)
}

func (m *Manager) deactivateLocked(ctx context.Context) error {
	if m.current == nil {
		return nil
	}
	name := m.current.Name()
	if err := m.current.Deactivate(ctx); err != nil {
		m.logger.Error("overlay deactivation failed",
			zap.String("operation", "overlay.deactivate"),
			zap.String("overlay", name),
			zap.Error(err))
	}
	m.current = nil
	if err := m.store.Set(ctx, kvstore.EventActivePath(), nil); err != nil {
		return fmt.Errorf("overlay: clear pointer for %s: %w", name, err)
	}
	m.logger.Info("overlay deactivated", zap.String("overlay", name))
	return nil
}

// Restore activates the overlay the shared pointer names, without a role check and without
// rewriting the pointer. It reports the restored name, or "" when nothing was restored.
func (m *Manager) Restore(ctx context.Context) (string, error) {
	pointer, found, err := m.Pointer(ctx)
	if err != nil || !found {
		return "", err
	}
	constructor, ok := m.registry.Lookup(pointer.Name)
	if !ok {
		m.logger.Warn("active pointer names an unknown overlay", zap.String("overlay", pointer.Name))
		return "", nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.Name() == pointer.Name {
		return pointer.Name, nil
	}
	if m.current != nil {
		if err := m.current.Deactivate(ctx); err != nil {
			m.logger.Warn("overlay deactivation failed", zap.String("overlay", m.current.Name()), zap.Error(err))
		}
		m.current = nil
	}
	candidate := constructor()
	if err := candidate.Activate(ctx, m.surface, m.store); err != nil {
		return "", fmt.Errorf("overlay: restore %s: %w", pointer.Name, err)
	}
	m.current = candidate
	return pointer.Name, nil
}

// Pointer reads events/active.
func (m *Manager) Pointer(ctx context.Context) (ActiveEvent, bool, error) {
	raw, err := m.store.Get(ctx, kvstore.EventActivePath())
	if err != nil {
		return ActiveEvent{}, false, err
	}
	var pointer ActiveEvent
	found, err := kvstore.Decode(raw, &pointer)
	if err != nil {
		return ActiveEvent{}, false, fmt.Errorf("overlay: decode active pointer: %w", err)
	}
	if !found || pointer.Name == "" {
		return ActiveEvent{}, false, nil
	}
	return pointer, true, nil
}

// Active returns the running overlay or nil.
func (m *Manager) Active() Overlay {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Names lists every registered overlay.
func (m *Manager) Names() []string {
	return m.registry.Names()
}

// IsActive reports whether the running overlay is name.
func (m *Manager) IsActive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.Name() == name
}
