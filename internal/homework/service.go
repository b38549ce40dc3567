// Package homework implements the cache-first homework view and editor of a class.
package homework

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/auth"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/cache"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/pending"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("store is required")
	errMissingCache = errors.New("cache is required")
	errMissingQueue = errors.New("pending queue is required")

	// ErrNoSession reports a call made before logging in.
	ErrNoSession = errors.New("homework: no active session")
	// ErrPermissionDenied reports a session that may not edit homework.
	ErrPermissionDenied = errors.New("homework: editing is not allowed for this role")
	// ErrEmptyHomework reports content without visible text.
	ErrEmptyHomework = errors.New("homework: nothing to save")

	noOpLogger = zap.NewNop()
)

// ServiceError carries a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "homework.service.new"
	opLoad       = "homework.load"
	opSave       = "homework.save"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Queue is the part of the pending queue the service writes to.
type Queue interface {
	Enqueue(change pending.Change) (pending.Change, error)
	List() []pending.Change
	Remove(ids ...string) error
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store  kvstore.Store
	Cache  *cache.Cache
	Queue  Queue
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service shows cached homework immediately and keeps it in step with the store.
type Service struct {
	store  kvstore.Store
	cache  *cache.Cache
	queue  Queue
	clock  func() time.Time
	logger *zap.Logger
}

// NewService validates cfg and builds a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Cache == nil {
		return nil, newServiceError(opServiceNew, "missing_cache", errMissingCache)
	}
	if cfg.Queue == nil {
		return nil, newServiceError(opServiceNew, "missing_queue", errMissingQueue)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{store: cfg.Store, cache: cfg.Cache, queue: cfg.Queue, clock: clock, logger: logger}, nil
}

// Subscription is a live view of a class record.
type Subscription struct {
	// Live is false when the store could not be reached and only the cache was shown.
	Live bool
	stop func()
	once sync.Once
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Load hands the cached record to onChange at once, then every record the store publishes.
// Store values are cached before onChange sees them; absent values are ignored.
func (s *Service) Load(ctx context.Context, session *auth.Session, onChange func(classroom.HomeworkRecord)) (*Subscription, error) {
	if session == nil {
		return nil, newServiceError(opLoad, "no_session", ErrNoSession)
	}
	class := session.EffectiveClass()
	classPath, err := kvstore.ClassPath(class)
	if err != nil {
		return nil, newServiceError(opLoad, "invalid_class", err)
	}
	if onChange == nil {
		onChange = func(classroom.HomeworkRecord) {}
	}

	if cached, err := s.cache.Homework(class); err != nil {
		s.logError(opLoad, "cache_read_failed", err, zap.String("class", class))
	} else if cached != nil {
		onChange(*cached)
	}

	stop, err := s.store.Subscribe(ctx, classPath, func(value json.RawMessage) {
		var record classroom.HomeworkRecord
		found, err := kvstore.Decode(value, &record)
		if err != nil {
			s.logError(opLoad, "decode_failed", err, zap.String("class", class))
			return
		}
		if !found {
			return
		}
		if err := s.cache.SaveHomework(class, record); err != nil {
			s.logError(opLoad, "cache_write_failed", err, zap.String("class", class))
		}
		onChange(record)
	})
	if err != nil {
		s.loggerOrDefault().Warn("homework subscription unavailable, showing cache",
			zap.String("operation", opLoad),
			zap.String("class", class),
			zap.Error(err))
		return &Subscription{Live: false}, nil
	}
	return &Subscription{Live: true, stop: stop}, nil
}

// Cached returns the homework the cache holds for the session's class, or nil.
func (s *Service) Cached(session *auth.Session) (*classroom.HomeworkRecord, error) {
	if session == nil {
		return nil, newServiceError(opLoad, "no_session", ErrNoSession)
	}
	return s.cache.Homework(session.EffectiveClass())
}

// SaveResult describes where a saved record ended up.
type SaveResult struct {
	Record    classroom.HomeworkRecord
	Synced    bool
	PendingID string
}

// Save validates content, caches it and queues it, then tries the store right away.
// A successful store write takes the change back off the queue. Offline saves are not errors.
func (s *Service) Save(ctx context.Context, session *auth.Session, content string) (SaveResult, error) {
	if session == nil {
		return SaveResult{}, newServiceError(opSave, "no_session", ErrNoSession)
	}
	if !auth.CanEdit(session) {
		return SaveResult{}, newServiceError(opSave, "permission_denied", ErrPermissionDenied)
	}
	if IsBlank(content) {
		return SaveResult{}, newServiceError(opSave, "empty_content", ErrEmptyHomework)
	}
	class := session.EffectiveClass()
	classPath, err := kvstore.ClassPath(class)
	if err != nil {
		return SaveResult{}, newServiceError(opSave, "invalid_class", err)
	}

	now := s.clock()
	record := classroom.HomeworkRecord{
		Homework:   content,
		LastUpdate: classroom.FormatLastUpdate(now),
		EditedBy:   auth.KeyFingerprint(session.Key),
		Editor:     strconv.FormatInt(now.UnixMilli(), 10),
		Timestamp:  now.UnixMilli(),
	}
	if err := s.cache.SaveHomework(class, record); err != nil {
		s.logError(opSave, "cache_write_failed", err, zap.String("class", class))
		return SaveResult{}, newServiceError(opSave, "cache_write_failed", err)
	}

	data, err := json.Marshal(content)
	if err != nil {
		return SaveResult{}, newServiceError(opSave, "encode_failed", err)
	}
	queued, err := s.queue.Enqueue(pending.Change{Kind: pending.KindHomework, Class: class, Data: data})
	if err != nil {
		s.logError(opSave, "enqueue_failed", err, zap.String("class", class))
		return SaveResult{}, newServiceError(opSave, "enqueue_failed", err)
	}

	fields := map[string]any{
		"homework":   record.Homework,
		"lastUpdate": record.LastUpdate,
		"_editedBy":  record.EditedBy,
		"_editor":    record.Editor,
		"_timestamp": record.Timestamp,
	}
	if err := s.store.Update(ctx, classPath, fields); err != nil {
		if kvstore.IsPermanent(err) {
			if removeErr := s.queue.Remove(queued.ID); removeErr != nil {
				s.logError(opSave, "dequeue_failed", removeErr, zap.String("id", queued.ID))
			}
			s.logError(opSave, "store_rejected", err, zap.String("class", class))
			return SaveResult{Record: record}, newServiceError(opSave, "store_rejected", err)
		}
		s.loggerOrDefault().Warn("homework saved locally, store unreachable",
			zap.String("operation", opSave),
			zap.String("class", class),
			zap.String("pending_id", queued.ID),
			zap.Error(err))
		return SaveResult{Record: record, PendingID: queued.ID}, nil
	}

	superseded := s.supersededBy(queued)
	if err := s.queue.Remove(superseded...); err != nil {
		s.logError(opSave, "dequeue_failed", err, zap.String("id", queued.ID))
	}
	return SaveResult{Record: record, Synced: true}, nil
}

// supersededBy lists queued and every homework change for its class queued before it.
// Replaying any of them would overwrite the content just written.
func (s *Service) supersededBy(queued pending.Change) []string {
	ids := []string{queued.ID}
	for _, change := range s.queue.List() {
		if change.ID == queued.ID {
			break
		}
		if pending.NormalizeKind(change.Kind) == pending.KindHomework && change.Class == queued.Class {
			ids = append(ids, change.ID)
		}
	}
	return ids
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("homework service error", attrs...)
}
