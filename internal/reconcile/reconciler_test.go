package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/kvstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/localstore"
	"github.com/GaneevAmirHosting-dev/class-notes/internal/pending"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var reconcileClock = func() time.Time {
	return time.Date(2025, time.December, 3, 18, 30, 0, 0, time.UTC)
}

func newTestQueue(t *testing.T, storage localstore.Storage) *pending.Queue {
	t.Helper()
	queue, err := pending.NewQueue(pending.QueueConfig{Storage: storage, IDProvider: pending.NewUUIDProvider()})
	require.NoError(t, err)
	require.NoError(t, queue.Load())
	return queue
}

func enqueue(t *testing.T, queue *pending.Queue, change pending.Change) pending.Change {
	t.Helper()
	stored, err := queue.Enqueue(change)
	require.NoError(t, err)
	return stored
}

func counterValue(t *testing.T, result string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "classnotes_sync_entries_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSyncAppliesEveryEntryAndEmptiesQueue(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "classes/11-A/gallery/img_old", map[string]any{"size": 1}))
	queue := newTestQueue(t, localstore.NewMemoryStorage())

	enqueue(t, queue, pending.Change{Kind: pending.KindHomework, Class: "10-M", Data: json.RawMessage(`"<p>first</p>"`)})
	enqueue(t, queue, pending.Change{Kind: pending.KindHomework, Class: "10-M", Data: json.RawMessage(`"<p>second</p>"`)})
	enqueue(t, queue, pending.Change{Kind: pending.KindGalleryAdd, Class: "10-M", FileName: "img_1", Data: json.RawMessage(`{"fileName":"img_1","size":4}`)})
	enqueue(t, queue, pending.Change{Kind: pending.KindGalleryDelete, Class: "11-A", FileName: "img_old"})

	reconciler, err := New(Config{Store: store, Queue: queue, Clock: reconcileClock})
	require.NoError(t, err)

	syncedBefore := counterValue(t, resultSynced)
	report, err := reconciler.SyncPendingChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, report.Attempted)
	require.Equal(t, 4, report.Synced)
	require.Zero(t, report.Failed)
	require.Zero(t, queue.Len())
	require.Equal(t, float64(4), counterValue(t, resultSynced)-syncedBefore)

	raw, err := store.Get(ctx, "classes/10-M")
	require.NoError(t, err)
	require.JSONEq(t, `{
		"homework":"<p>second</p>",
		"lastUpdate":"03.12.2025, 18:30:00",
		"gallery":{"img_1":{"fileName":"img_1","size":4}}
	}`, string(raw))

	deleted, err := store.Get(ctx, "classes/11-A")
	require.NoError(t, err)
	require.Nil(t, deleted)

	again, err := reconciler.SyncPendingChanges(ctx)
	require.NoError(t, err)
	require.Zero(t, again.Attempted)
}

func TestSyncRemovesOnlySuccessfulEntries(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	store.SetFailure(kvstore.FailWrites(errors.New("offline"), "classes/10-M/gallery"))
	storage := localstore.NewMemoryStorage()
	queue := newTestQueue(t, storage)

	homework := enqueue(t, queue, pending.Change{Kind: pending.KindHomework, Class: "10-M", Data: json.RawMessage(`"text"`)})
	image := enqueue(t, queue, pending.Change{Kind: pending.KindGalleryAdd, Class: "10-M", FileName: "img_1", Data: json.RawMessage(`{"size":1}`)})
	removal := enqueue(t, queue, pending.Change{Kind: pending.KindGalleryDelete, Class: "10-M", FileName: "img_2"})
	other := enqueue(t, queue, pending.Change{Kind: pending.KindHomework, Class: "11-A", Data: json.RawMessage(`"other"`)})

	reconciler, err := New(Config{Store: store, Queue: queue, Clock: reconcileClock})
	require.NoError(t, err)

	report, err := reconciler.SyncPendingChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, report.Attempted)
	require.Equal(t, 2, report.Synced)
	require.Equal(t, 2, report.Failed)
	require.ElementsMatch(t, []string{homework.ID, other.ID}, report.SyncedIDs)
	require.Equal(t, image.ID, report.Failures[0].Change.ID)
	require.True(t, kvstore.IsUnavailable(report.Failures[0].Err))

	reloaded := newTestQueue(t, storage)
	remaining := reloaded.List()
	require.Len(t, remaining, 2)
	require.Equal(t, image.ID, remaining[0].ID)
	require.Equal(t, removal.ID, remaining[1].ID)

	store.SetFailure(nil)
	report, err = reconciler.SyncPendingChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Synced)
	require.Zero(t, queue.Len())
}

func TestSyncRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	var mu sync.Mutex
	failuresLeft := 2
	store.SetFailure(func(operation kvstore.Operation, path kvstore.Path) error {
		mu.Lock()
		defer mu.Unlock()
		if operation == kvstore.OperationUpdate && failuresLeft > 0 {
			failuresLeft--
			return kvstore.ErrUnavailable
		}
		return nil
	})
	queue := newTestQueue(t, localstore.NewMemoryStorage())
	enqueue(t, queue, pending.Change{Kind: pending.KindHomework, Class: "10-M", Data: json.RawMessage(`"x"`)})

	reconciler, err := New(Config{
		Store:          store,
		Queue:          queue,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	require.NoError(t, err)

	report, err := reconciler.SyncPendingChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Synced)
	require.Zero(t, failuresLeft)
}

func TestSyncDoesNotRetryPermanentFailures(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	calls := 0
	store.SetFailure(func(operation kvstore.Operation, path kvstore.Path) error {
		calls++
		return kvstore.ErrForbidden
	})
	queue := newTestQueue(t, localstore.NewMemoryStorage())
	enqueue(t, queue, pending.Change{Kind: pending.KindGalleryDelete, Class: "10-M", FileName: "img_1"})

	reconciler, err := New(Config{Store: store, Queue: queue, MaxAttempts: 5, InitialBackoff: time.Millisecond})
	require.NoError(t, err)

	report, err := reconciler.SyncPendingChanges(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, calls)
	require.ErrorIs(t, report.Failures[0].Err, kvstore.ErrForbidden)
	require.Equal(t, 1, queue.Len())
}

type staticQueue struct {
	changes []pending.Change
	removed []string
}

func (q *staticQueue) List() []pending.Change { return q.changes }

func (q *staticQueue) Remove(ids ...string) error {
	q.removed = append(q.removed, ids...)
	return nil
}

func TestSyncReportsUnknownKinds(t *testing.T) {
	queue := &staticQueue{changes: []pending.Change{
		{ID: "a", Kind: "rename", Class: "10-M"},
		{ID: "b", Kind: "gallery", Class: "10-M", FileName: "img_1", Data: json.RawMessage(`{"size":1}`)},
	}}
	reconciler, err := New(Config{Store: kvstore.NewMemoryStore(), Queue: queue})
	require.NoError(t, err)

	report, err := reconciler.SyncPendingChanges(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, report.Failures[0].Err, ErrUnknownKind)
	require.Equal(t, []string{"b"}, queue.removed, "legacy kinds still replay")
}

func TestSyncStopsOnCancelledContext(t *testing.T) {
	queue := &staticQueue{changes: []pending.Change{{ID: "a", Kind: pending.KindHomework, Class: "10-M"}}}
	reconciler, err := New(Config{Store: kvstore.NewMemoryStore(), Queue: queue})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := reconciler.SyncPendingChanges(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, report.Attempted)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Config{Queue: &staticQueue{}})
	require.Error(t, err)
	_, err = New(Config{Store: kvstore.NewMemoryStore()})
	require.Error(t, err)
}
