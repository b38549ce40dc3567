// Package overlay hosts decorative page-wide animations ("events") and the manager that
// keeps at most one of them active across every portal client.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
)

var (
	// ErrUnknownOverlay reports a name missing from the registry.
	ErrUnknownOverlay = errors.New("overlay: unknown overlay")
	// ErrAdminRequired reports an admin-only overlay requested by another role.
	ErrAdminRequired = errors.New("overlay: only administrators can activate this overlay")
	// ErrDuplicateOverlay reports a second registration under the same name.
	ErrDuplicateOverlay = errors.New("overlay: overlay already registered")
)

// Status is the read-only summary every overlay reports.
type Status struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Active        bool           `json:"isActive"`
	RequiresAdmin bool           `json:"requiresAdmin"`
	Config        map[string]any `json:"config,omitempty"`
}

// Overlay is the lifecycle every event type implements.
type Overlay interface {
	Name() string
	RequiresAdmin() bool
	Activate(ctx context.Context, surface Surface, store kvstore.Store) error
	Deactivate(ctx context.Context) error
	Status() Status
}

// Constructor builds a fresh, inactive overlay instance.
type Constructor func() Overlay

// Registry maps overlay names to their constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under name.
func (r *Registry) Register(name string, constructor Constructor) error {
	name = strings.TrimSpace(name)
	if name == "" || constructor == nil {
		return fmt.Errorf("overlay: name and constructor are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOverlay, name)
	}
	r.constructors[name] = constructor
	return nil
}

// Lookup returns the constructor registered under name.
func (r *Registry) Lookup(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	constructor, ok := r.constructors[name]
	return constructor, ok
}

// Names lists the registered overlays alphabetically.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
