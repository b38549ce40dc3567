// Package cache keeps the last-known homework and gallery payload of every class locally.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/localstore"
	"go.uber.org/zap"
)

// Kind selects which cached record of a class is addressed.
type Kind string

const (
	KindHomework Kind = "homework"
	KindGallery  Kind = "gallery"
)

const (
	homeworkKey = "homeworkData"
	galleryKey  = "galleryData"
)

var (
	// ErrInvalidClass reports an empty class name.
	ErrInvalidClass = errors.New("cache: class name is required")
	// ErrInvalidKind reports a kind other than homework or gallery.
	ErrInvalidKind = errors.New("cache: unknown record kind")
)

// Cache is the LocalCache: one JSON object per kind, keyed by class name.
// Records are replaced wholesale; there is no merge and no expiry. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	storage localstore.Storage
	logger  *zap.Logger
}

// New builds a Cache on top of storage.
func New(storage localstore.Storage, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{storage: storage, logger: logger}
}

// Save overwrites the record for class and kind. A nil data removes the record.
func (c *Cache) Save(class string, kind Kind, data any) error {
	key, err := storageKey(kind)
	if err != nil {
		return err
	}
	if strings.TrimSpace(class) == "" {
		return ErrInvalidClass
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	records, err := c.readRecords(key)
	if err != nil {
		return err
	}
	if data == nil {
		delete(records, class)
	} else {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("cache: encode %s for %s: %w", kind, class, err)
		}
		if string(encoded) == "null" {
			delete(records, class)
		} else {
			records[class] = encoded
		}
	}
	return c.writeRecords(key, records)
}

// Get returns the raw record for class and kind, or nil when nothing is cached.
func (c *Cache) Get(class string, kind Kind) (json.RawMessage, error) {
	key, err := storageKey(kind)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	records, err := c.readRecords(key)
	if err != nil {
		return nil, err
	}
	record, ok := records[class]
	if !ok {
		return nil, nil
	}
	return record, nil
}

// SaveHomework caches the homework record of class.
func (c *Cache) SaveHomework(class string, record classroom.HomeworkRecord) error {
	return c.Save(class, KindHomework, record)
}

// Homework returns the cached homework record of class, or nil.
func (c *Cache) Homework(class string) (*classroom.HomeworkRecord, error) {
	raw, err := c.Get(class, KindHomework)
	if err != nil || raw == nil {
		return nil, err
	}
	var record classroom.HomeworkRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("cache: decode homework for %s: %w", class, err)
	}
	return &record, nil
}

// SaveGallery caches the whole gallery map of class.
func (c *Cache) SaveGallery(class string, gallery classroom.Gallery) error {
	if gallery == nil {
		gallery = classroom.Gallery{}
	}
	return c.Save(class, KindGallery, gallery)
}

// Gallery returns the cached gallery of class; ok is false when nothing is cached.
func (c *Cache) Gallery(class string) (classroom.Gallery, bool, error) {
	raw, err := c.Get(class, KindGallery)
	if err != nil || raw == nil {
		return nil, false, err
	}
	gallery := classroom.Gallery{}
	if err := json.Unmarshal(raw, &gallery); err != nil {
		return nil, false, fmt.Errorf("cache: decode gallery for %s: %w", class, err)
	}
	return gallery, true, nil
}

// AddImage inserts or replaces one gallery entry.
func (c *Cache) AddImage(class, imageID string, entry classroom.ImageEntry) error {
	return c.mutateGallery(class, func(gallery classroom.Gallery) bool {
		gallery[imageID] = entry
		return true
	})
}

// DeleteImage removes one gallery entry; absent entries are ignored.
func (c *Cache) DeleteImage(class, imageID string) error {
	return c.mutateGallery(class, func(gallery classroom.Gallery) bool {
		if _, exists := gallery[imageID]; !exists {
			return false
		}
		delete(gallery, imageID)
		return true
	})
}

func (c *Cache) mutateGallery(class string, mutate func(classroom.Gallery) bool) error {
	if strings.TrimSpace(class) == "" {
		return ErrInvalidClass
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	records, err := c.readRecords(galleryKey)
	if err != nil {
		return err
	}
	gallery := classroom.Gallery{}
	if raw, ok := records[class]; ok {
		if err := json.Unmarshal(raw, &gallery); err != nil {
			return fmt.Errorf("cache: decode gallery for %s: %w", class, err)
		}
		if gallery == nil {
			gallery = classroom.Gallery{}
		}
	}
	if !mutate(gallery) {
		return nil
	}
	encoded, err := json.Marshal(gallery)
	if err != nil {
		return err
	}
	records[class] = encoded
	return c.writeRecords(galleryKey, records)
}

// SizeEstimate approximates the bytes held by the cache as two bytes per stored character.
func (c *Cache) SizeEstimate() (int64, error) {
	var total int64
	for _, key := range []string{homeworkKey, galleryKey} {
		value, ok, err := c.storage.GetItem(key)
		if err != nil {
			return 0, err
		}
		if ok {
			total += int64(len([]rune(value))) * 2
		}
	}
	return total, nil
}

// ClearAll drops every cached record.
func (c *Cache) ClearAll() error {
	for _, key := range []string{homeworkKey, galleryKey} {
		if err := c.storage.RemoveItem(key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) readRecords(key string) (map[string]json.RawMessage, error) {
	records := map[string]json.RawMessage{}
	value, ok, err := c.storage.GetItem(key)
	if err != nil {
		return nil, err
	}
	if !ok || value == "" {
		return records, nil
	}
	if err := json.Unmarshal([]byte(value), &records); err != nil {
		c.logger.Warn("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		return map[string]json.RawMessage{}, nil
	}
	if records == nil {
		records = map[string]json.RawMessage{}
	}
	return records, nil
}

func (c *Cache) writeRecords(key string, records map[string]json.RawMessage) error {
	encoded, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return c.storage.SetItem(key, string(encoded))
}

func storageKey(kind Kind) (string, error) {
	switch kind {
	case KindHomework:
		return homeworkKey, nil
	case KindGallery:
		return galleryKey, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}
