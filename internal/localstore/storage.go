// Package localstore persists the client's string-valued key/value state between runs.
package localstore

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("localstore: database handle is required")

// Storage is a synchronous string key/value store; every write is durable when it returns.
type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Keys() ([]string, error)
}

// Item is one persisted key.
type Item struct {
	Key              string `gorm:"column:item_key;primaryKey;size:190"`
	Value            string `gorm:"column:value;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName keeps the table name stable across refactors.
func (Item) TableName() string {
	return "local_items"
}

// SQLiteStorageConfig wires a gorm handle into SQLiteStorage.
type SQLiteStorageConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLiteStorage stores items in the local_items table.
type SQLiteStorage struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSQLiteStorage validates the configuration and builds a SQLiteStorage.
func NewSQLiteStorage(cfg SQLiteStorageConfig) (*SQLiteStorage, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStorage{db: cfg.Database, clock: clock, logger: logger}, nil
}

func (s *SQLiteStorage) GetItem(key string) (string, bool, error) {
	var item Item
	err := s.db.Where("item_key = ?", key).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logger.Error("local item read failed", zap.String("key", key), zap.Error(err))
		return "", false, err
	}
	return item.Value, true, nil
}

func (s *SQLiteStorage) SetItem(key, value string) error {
	item := Item{Key: key, Value: value, UpdatedAtSeconds: s.clock().UTC().Unix()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_s"}),
	}).Create(&item).Error
	if err != nil {
		s.logger.Error("local item write failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

func (s *SQLiteStorage) RemoveItem(key string) error {
	err := s.db.Where("item_key = ?", key).Delete(&Item{}).Error
	if err != nil {
		s.logger.Error("local item delete failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

func (s *SQLiteStorage) Keys() ([]string, error) {
	var keys []string
	if err := s.db.Model(&Item{}).Order("item_key").Pluck("item_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

// MemoryStorage is a volatile Storage for tests and one-shot commands.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (s *MemoryStorage) GetItem(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.items[key]
	return value, ok, nil
}

func (s *MemoryStorage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryStorage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStorage) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
