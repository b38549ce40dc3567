// Package reconcile replays queued offline changes against the remote store.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/pending"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

var (
	errMissingStore = errors.New("reconcile: store is required")
	errMissingQueue = errors.New("reconcile: queue is required")

	// ErrUnknownKind reports a queued change the reconciler cannot replay.
	ErrUnknownKind = errors.New("reconcile: unknown change kind")
)

// Queue is the part of the pending queue the reconciler consumes.
type Queue interface {
	List() []pending.Change
	Remove(ids ...string) error
}

// Config wires a Reconciler. MaxAttempts of 0 or 1 means every entry is tried once per pass.
type Config struct {
	Store          kvstore.Store
	Queue          Queue
	Clock          func() time.Time
	Logger         *zap.Logger
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// EntryFailure pairs a change that stayed queued with the reason it did.
type EntryFailure struct {
	Change pending.Change
	Err    error
}

// Report summarizes one reconciliation pass.
type Report struct {
	Attempted int
	Synced    int
	Failed    int
	SyncedIDs []string
	Failures  []EntryFailure
}

// Reconciler is the SyncReconciler.
type Reconciler struct {
	store          kvstore.Store
	queue          Queue
	clock          func() time.Time
	logger         *zap.Logger
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New validates cfg and builds a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Queue == nil {
		return nil, errMissingQueue
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconciler{
		store:          cfg.Store,
		queue:          cfg.Queue,
		clock:          clock,
		logger:         logger,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}, nil
}

// SyncPendingChanges replays the queue in insertion order. A failing entry never
// stops later ones; after the pass exactly the replayed entries leave the queue.
// Entry failures are reported, not returned; the error is reserved for a failed
// queue update or a cancelled context.
func (r *Reconciler) SyncPendingChanges(ctx context.Context) (Report, error) {
	started := time.Now()
	defer func() { syncPassDuration.Observe(time.Since(started).Seconds()) }()

	changes := r.queue.List()
	report := Report{}
	var passErr error
	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			passErr = err
			break
		}
		report.Attempted++
		if err := r.replayWithRetry(ctx, change); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, EntryFailure{Change: change, Err: err})
			syncEntriesTotal.WithLabelValues(resultFailed).Inc()
			r.logger.Warn("pending change sync failed",
				zap.String("operation", "reconcile.sync_pending_changes"),
				zap.String("id", change.ID),
				zap.String("kind", string(change.Kind)),
				zap.String("class", change.Class),
				zap.Error(err))
			continue
		}
		report.Synced++
		report.SyncedIDs = append(report.SyncedIDs, change.ID)
		syncEntriesTotal.WithLabelValues(resultSynced).Inc()
	}

	if err := r.queue.Remove(report.SyncedIDs...); err != nil {
		r.logger.Error("pending queue update failed",
			zap.String("operation", "reconcile.sync_pending_changes"),
			zap.Int("synced", report.Synced),
			zap.Error(err))
		return report, err
	}
	pendingQueueDepth.Set(float64(len(changes) - report.Synced))

	if report.Attempted > 0 {
		r.logger.Info("pending changes reconciled",
			zap.Int("attempted", report.Attempted),
			zap.Int("synced", report.Synced),
			zap.Int("failed", report.Failed))
	}
	return report, passErr
}

func (r *Reconciler) replayWithRetry(ctx context.Context, change pending.Change) error {
	if r.maxAttempts == 1 {
		return r.replay(ctx, change)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initialBackoff
	exp.Multiplier = 2
	exp.MaxInterval = r.maxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.maxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		err := r.replay(ctx, change)
		if err != nil && (kvstore.IsPermanent(err) || errors.Is(err, ErrUnknownKind)) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (r *Reconciler) replay(ctx context.Context, change pending.Change) error {
	switch pending.NormalizeKind(change.Kind) {
	case pending.KindHomework:
		classPath, err := kvstore.ClassPath(change.Class)
		if err != nil {
			return err
		}
		content, err := homeworkContent(change.Data)
		if err != nil {
			return err
		}
		return r.store.Update(ctx, classPath, map[string]any{
			"homework":   content,
			"lastUpdate": classroom.FormatLastUpdate(r.clock()),
		})
	case pending.KindGalleryAdd:
		imagePath, err := kvstore.ImagePath(change.Class, change.FileName)
		if err != nil {
			return err
		}
		if len(change.Data) == 0 {
			return fmt.Errorf("%w: gallery change %s carries no image", kvstore.ErrInvalidValue, change.ID)
		}
		return r.store.Set(ctx, imagePath, change.Data)
	case pending.KindGalleryDelete:
		imagePath, err := kvstore.ImagePath(change.Class, change.FileName)
		if err != nil {
			return err
		}
		return r.store.Delete(ctx, imagePath)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, change.Kind)
	}
}

func homeworkContent(data json.RawMessage) (any, error) {
	if len(data) == 0 {
		return "", nil
	}
	var content string
	if err := json.Unmarshal(data, &content); err == nil {
		return content, nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: homework payload: %v", kvstore.ErrInvalidValue, err)
	}
	return raw, nil
}
