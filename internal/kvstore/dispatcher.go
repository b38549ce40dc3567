package kvstore

import (
	"context"
	"encoding/json"
	"sync"
)

// Dispatcher fans change notifications out to subscribers whose path overlaps the write.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
}

type subscriber struct {
	id       int64
	path     Path
	callback ChangeFunc
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subscribers: make(map[int64]*subscriber)}
}

// Register adds a subscriber and returns its cleanup. Cleanup is idempotent and also
// runs when ctx is cancelled.
func (d *Dispatcher) Register(ctx context.Context, path Path, callback ChangeFunc) func() {
	if callback == nil {
		return func() {}
	}
	d.mu.Lock()
	d.nextID++
	entry := &subscriber{id: d.nextID, path: path, callback: callback}
	d.subscribers[entry.id] = entry
	d.mu.Unlock()

	var (
		once     sync.Once
		stopWait = func() bool { return false }
	)
	remove := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, entry.id)
			d.mu.Unlock()
		})
	}
	if ctx != nil && ctx.Done() != nil {
		stopWait = context.AfterFunc(ctx, remove)
	}
	return func() {
		stopWait()
		remove()
	}
}

// Notify delivers the value each overlapping subscriber now observes.
// valueAt is called once per distinct subscribed path.
func (d *Dispatcher) Notify(changed Path, valueAt func(Path) json.RawMessage) {
	d.mu.RLock()
	if len(d.subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	targets := make([]*subscriber, 0, len(d.subscribers))
	for _, entry := range d.subscribers {
		if entry.path.Overlaps(changed) {
			targets = append(targets, entry)
		}
	}
	d.mu.RUnlock()

	values := make(map[Path]json.RawMessage, len(targets))
	for _, entry := range targets {
		value, ok := values[entry.path]
		if !ok {
			value = valueAt(entry.path)
			values[entry.path] = value
		}
		if d.isRegistered(entry.id) {
			entry.callback(value)
		}
	}
}

// Len reports the number of live subscribers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *Dispatcher) isRegistered(id int64) bool {
	d.mu.RLock()
	_, ok := d.subscribers[id]
	d.mu.RUnlock()
	return ok
}
