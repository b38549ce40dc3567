// Package pending holds writes that could not reach the remote store until they are reconciled.
package pending

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/localstore"
	"go.uber.org/zap"
)

// Kind names the remote mutation a queued change replays.
type Kind string

const (
	KindHomework      Kind = "homework"
	KindGalleryAdd    Kind = "gallery-add"
	KindGalleryDelete Kind = "gallery-delete"

	legacyKindGalleryAdd    Kind = "gallery"
	legacyKindGalleryDelete Kind = "delete_image"
)

// StorageKey is the localstore key holding the serialized queue.
const StorageKey = "pendingChanges"

const maxIDAttempts = 8

var (
	errMissingStorage    = errors.New("pending: storage is required")
	errMissingIDProvider = errors.New("pending: id provider is required")

	// ErrInvalidChange reports a change without a class or with an unknown kind.
	ErrInvalidChange = errors.New("pending: invalid change")
	// ErrIDExhausted reports that no unique identifier could be issued.
	ErrIDExhausted = errors.New("pending: could not issue a unique id")
)

// Change is one queued mutation. FileName carries the image id of gallery changes.
type Change struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"type"`
	Class     string          `json:"class"`
	FileName  string          `json:"fileName,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NormalizeKind maps kinds written by earlier clients onto the current names.
func NormalizeKind(kind Kind) Kind {
	switch kind {
	case legacyKindGalleryAdd:
		return KindGalleryAdd
	case legacyKindGalleryDelete:
		return KindGalleryDelete
	default:
		return kind
	}
}

// Known reports whether kind is one the reconciler can replay.
func (k Kind) Known() bool {
	switch k {
	case KindHomework, KindGalleryAdd, KindGalleryDelete:
		return true
	default:
		return false
	}
}

// QueueConfig wires the dependencies of a Queue.
type QueueConfig struct {
	Storage    localstore.Storage
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Queue is an ordered, persisted list of pending changes, safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	storage localstore.Storage
	clock   func() time.Time
	ids     IDProvider
	logger  *zap.Logger
	entries []Change
}

// NewQueue validates the configuration and returns an empty Queue; call Load to rehydrate.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{storage: cfg.Storage, clock: clock, ids: cfg.IDProvider, logger: logger}, nil
}

// Load replaces the in-memory queue with the persisted one.
func (q *Queue) Load() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, changed, err := readEntries(q.storage)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(entries))
	for index := range entries {
		_, duplicate := seen[entries[index].ID]
		if entries[index].ID == "" || duplicate {
			id, err := q.uniqueIDLocked(seen)
			if err != nil {
				return err
			}
			entries[index].ID = id
			changed = true
		}
		seen[entries[index].ID] = struct{}{}
		if !entries[index].Kind.Known() {
			q.logger.Warn("pending change has unknown kind",
				zap.String("id", entries[index].ID),
				zap.String("kind", string(entries[index].Kind)))
		}
	}
	q.entries = entries
	if changed {
		return q.persistLocked()
	}
	return nil
}

// Enqueue appends change with a fresh id and timestamp and persists the queue.
func (q *Queue) Enqueue(change Change) (Change, error) {
	change.Kind = NormalizeKind(change.Kind)
	if !change.Kind.Known() {
		return Change{}, fmt.Errorf("%w: kind %q", ErrInvalidChange, change.Kind)
	}
	if strings.TrimSpace(change.Class) == "" {
		return Change{}, fmt.Errorf("%w: class is required", ErrInvalidChange)
	}
	if change.Kind != KindHomework && strings.TrimSpace(change.FileName) == "" {
		return Change{}, fmt.Errorf("%w: image id is required", ErrInvalidChange)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]struct{}, len(q.entries))
	for _, entry := range q.entries {
		seen[entry.ID] = struct{}{}
	}
	id, err := q.uniqueIDLocked(seen)
	if err != nil {
		return Change{}, err
	}
	change.ID = id
	change.Timestamp = q.clock().UnixMilli()
	if change.Data != nil {
		change.Data = append(json.RawMessage(nil), change.Data...)
	}

	q.entries = append(q.entries, change)
	if err := q.persistLocked(); err != nil {
		q.entries = q.entries[:len(q.entries)-1]
		return Change{}, err
	}
	return change, nil
}

// List returns a snapshot of the queue in insertion order.
func (q *Queue) List() []Change {
	q.mu.Lock()
	defer q.mu.Unlock()
	snapshot := make([]Change, len(q.entries))
	copy(snapshot, q.entries)
	return snapshot
}

// Len reports the number of queued changes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Remove drops the entries with the given ids; unknown ids are ignored.
func (q *Queue) Remove(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make([]Change, 0, len(q.entries))
	for _, entry := range q.entries {
		if _, ok := drop[entry.ID]; !ok {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(q.entries) {
		return nil
	}
	previous := q.entries
	q.entries = kept
	if err := q.persistLocked(); err != nil {
		q.entries = previous
		return err
	}
	return nil
}

// Clear empties the queue.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	previous := q.entries
	q.entries = nil
	if err := q.persistLocked(); err != nil {
		q.entries = previous
		return err
	}
	return nil
}

func (q *Queue) uniqueIDLocked(seen map[string]struct{}) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := q.ids.NewID()
		if err != nil {
			return "", err
		}
		if _, taken := seen[id]; !taken && id != "" {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

func (q *Queue) persistLocked() error {
	if err := writeEntries(q.storage, q.entries); err != nil {
		q.logger.Error("pending queue persist failed", zap.Int("entries", len(q.entries)), zap.Error(err))
		return err
	}
	return nil
}

// NormalizeStoredKinds rewrites legacy kinds in the persisted queue in place.
func NormalizeStoredKinds(storage localstore.Storage) error {
	entries, changed, err := readEntries(storage)
	if err != nil || !changed {
		return err
	}
	return writeEntries(storage, entries)
}

func readEntries(storage localstore.Storage) ([]Change, bool, error) {
	raw, ok, err := storage.GetItem(StorageKey)
	if err != nil {
		return nil, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, false, nil
	}
	var entries []Change
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, false, fmt.Errorf("pending: decode stored queue: %w", err)
	}
	changed := false
	for index := range entries {
		normalized := NormalizeKind(entries[index].Kind)
		if normalized != entries[index].Kind {
			entries[index].Kind = normalized
			changed = true
		}
	}
	return entries, changed, nil
}

func writeEntries(storage localstore.Storage, entries []Change) error {
	if entries == nil {
		entries = []Change{}
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return storage.SetItem(StorageKey, string(encoded))
}
