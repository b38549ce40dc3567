package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Operation names a store primitive, used by failure injection and logging.
type Operation string

const (
	OperationGet       Operation = "get"
	OperationSet       Operation = "set"
	OperationUpdate    Operation = "update"
	OperationDelete    Operation = "delete"
	OperationSubscribe Operation = "subscribe"
)

// FailureFunc decides whether a call should fail before touching the tree.
type FailureFunc func(operation Operation, path Path) error

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	tree       *Tree
	dispatcher *Dispatcher
	failure    FailureFunc
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree:       NewTree(),
		dispatcher: NewDispatcher(),
	}
}

// SetFailure installs a failure hook; nil removes it.
func (s *MemoryStore) SetFailure(failure FailureFunc) {
	s.mu.Lock()
	s.failure = failure
	s.mu.Unlock()
}

// Seed replaces the whole tree with the given document without notifying subscribers.
func (s *MemoryStore) Seed(document map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Set("", document)
}

func (s *MemoryStore) Get(ctx context.Context, path Path) (json.RawMessage, error) {
	if err := s.check(ctx, OperationGet, path); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Raw(path)
}

func (s *MemoryStore) Set(ctx context.Context, path Path, value any) error {
	return s.write(ctx, OperationSet, path, func(tree *Tree) error {
		return tree.Set(path, value)
	})
}

func (s *MemoryStore) Update(ctx context.Context, path Path, fields map[string]any) error {
	return s.write(ctx, OperationUpdate, path, func(tree *Tree) error {
		return tree.Update(path, fields)
	})
}

func (s *MemoryStore) Delete(ctx context.Context, path Path) error {
	return s.write(ctx, OperationDelete, path, func(tree *Tree) error {
		tree.Delete(path)
		return nil
	})
}

func (s *MemoryStore) Subscribe(ctx context.Context, path Path, callback ChangeFunc) (func(), error) {
	if err := s.check(ctx, OperationSubscribe, path); err != nil {
		return nil, err
	}
	if callback == nil {
		return func() {}, nil
	}
	cleanup := s.dispatcher.Register(ctx, path, callback)
	callback(s.valueAt(path))
	return cleanup, nil
}

// Subscribers reports the number of live subscriptions.
func (s *MemoryStore) Subscribers() int {
	return s.dispatcher.Len()
}

func (s *MemoryStore) write(ctx context.Context, operation Operation, path Path, apply func(*Tree) error) error {
	if err := s.check(ctx, operation, path); err != nil {
		return err
	}
	s.mu.Lock()
	err := apply(s.tree)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.dispatcher.Notify(path, s.valueAt)
	return nil
}

func (s *MemoryStore) valueAt(path Path) json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, err := s.tree.Raw(path)
	if err != nil {
		return nil
	}
	return raw
}

func (s *MemoryStore) check(ctx context.Context, operation Operation, path Path) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	s.mu.RLock()
	failure := s.failure
	s.mu.RUnlock()
	if failure == nil {
		return nil
	}
	return failure(operation, path)
}

// FailAll returns a FailureFunc that fails every call with err wrapped in ErrUnavailable.
func FailAll(err error) FailureFunc {
	return func(Operation, Path) error {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// FailWrites fails mutating calls whose path lies under one of prefixes.
func FailWrites(err error, prefixes ...Path) FailureFunc {
	return func(operation Operation, path Path) error {
		if operation == OperationGet || operation == OperationSubscribe {
			return nil
		}
		for _, prefix := range prefixes {
			if prefix.IsAncestorOf(path) {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
		return nil
	}
}
