package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Document stores the serialized subtree under one root segment.
type Document struct {
	Root             string `gorm:"column:root;primaryKey;size:190;not null"`
	BodyJSON         string `gorm:"column:body_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "kv_documents"
}

var errMissingDatabase = errors.New("kvstore: database handle is required")

// SQLStoreConfig describes the dependencies of the persistent store.
type SQLStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SQLStore persists the tree in sqlite, one row per root segment.
type SQLStore struct {
	db         *gorm.DB
	clock      func() time.Time
	logger     *zap.Logger
	dispatcher *Dispatcher
}

// NewSQLStore constructs the store; the schema must already be migrated.
func NewSQLStore(cfg SQLStoreConfig) (*SQLStore, error) {
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
	return &SQLStore{
		db:         cfg.Database,
		clock:      clock,
		logger:     logger,
		dispatcher: NewDispatcher(),
	}, nil
}

func (s *SQLStore) Get(ctx context.Context, path Path) (json.RawMessage, error) {
	if path == "" {
		return s.getRoot(ctx)
	}
	tree, err := s.loadTree(s.db.WithContext(ctx), path.Root(), false)
	if err != nil {
		return nil, err
	}
	return tree.Raw(path)
}

func (s *SQLStore) Set(ctx context.Context, path Path, value any) error {
	return s.write(ctx, OperationSet, path, func(tree *Tree) error {
		return tree.Set(path, value)
	})
}

func (s *SQLStore) Update(ctx context.Context, path Path, fields map[string]any) error {
	return s.write(ctx, OperationUpdate, path, func(tree *Tree) error {
		return tree.Update(path, fields)
	})
}

func (s *SQLStore) Delete(ctx context.Context, path Path) error {
	return s.write(ctx, OperationDelete, path, func(tree *Tree) error {
		tree.Delete(path)
		return nil
	})
}

func (s *SQLStore) Subscribe(ctx context.Context, path Path, callback ChangeFunc) (func(), error) {
	if callback == nil {
		return func() {}, nil
	}
	cleanup := s.dispatcher.Register(ctx, path, callback)
	current, err := s.Get(ctx, path)
	if err != nil {
		cleanup()
		return nil, err
	}
	callback(current)
	return cleanup, nil
}

func (s *SQLStore) write(ctx context.Context, operation Operation, path Path, apply func(*Tree) error) error {
	if path == "" {
		return fmt.Errorf("%w: %s at root is not supported", ErrInvalidPath, operation)
	}
	root := path.Root()
	err := s.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		tree, err := s.loadTree(transaction, root, true)
		if err != nil {
			return err
		}
		if err := apply(tree); err != nil {
			return err
		}
		return s.saveTree(transaction, root, tree)
	})
	if err != nil {
		s.logger.Error("kvstore write failed",
			zap.String("operation", string(operation)),
			zap.String("path", path.String()),
			zap.Error(err))
		return err
	}
	s.dispatcher.Notify(path, func(subscribed Path) json.RawMessage {
		raw, getErr := s.Get(context.Background(), subscribed)
		if getErr != nil {
			s.logger.Warn("kvstore notify read failed", zap.String("path", subscribed.String()), zap.Error(getErr))
			return nil
		}
		return raw
	})
	return nil
}

func (s *SQLStore) loadTree(db *gorm.DB, root string, lock bool) (*Tree, error) {
	var document Document
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.Where("root = ?", root).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewTree(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	body, err := json.Marshal(map[string]json.RawMessage{root: json.RawMessage(document.BodyJSON)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return TreeFromJSON(body)
}

func (s *SQLStore) saveTree(db *gorm.DB, root string, tree *Tree) error {
	raw, err := tree.Raw(Path(root))
	if err != nil {
		return err
	}
	if raw == nil {
		return db.Where("root = ?", root).Delete(&Document{}).Error
	}
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&Document{
		Root:             root,
		BodyJSON:         string(raw),
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}).Error
}

func (s *SQLStore) getRoot(ctx context.Context) (json.RawMessage, error) {
	var documents []Document
	if err := s.db.WithContext(ctx).Order("root ASC").Find(&documents).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(documents) == 0 {
		return nil, nil
	}
	combined := make(map[string]json.RawMessage, len(documents))
	for _, document := range documents {
		combined[document.Root] = json.RawMessage(document.BodyJSON)
	}
	return json.Marshal(combined)
}
