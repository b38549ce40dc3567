// Package kvstore defines the hosted key/value store the portal persists into and
// provides in-memory, sqlite-backed and remote implementations of it.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrInvalidPath indicates a malformed store path.
	ErrInvalidPath = errors.New("kvstore: invalid path")
	// ErrUnavailable indicates the store could not be reached or failed to answer.
	ErrUnavailable = errors.New("kvstore: store unavailable")
	// ErrUnauthorized indicates the remote store rejected the session token.
	ErrUnauthorized = errors.New("kvstore: unauthorized")
	// ErrForbidden indicates the session may not access the path.
	ErrForbidden = errors.New("kvstore: forbidden")
	// ErrInvalidValue indicates a value that cannot be stored as JSON.
	ErrInvalidValue = errors.New("kvstore: invalid value")
)

// ChangeFunc receives the value at the subscribed path; nil when the path is empty.
type ChangeFunc func(value json.RawMessage)

// Store is the opaque slash-path tree consumed by every portal component.
type Store interface {
	Get(ctx context.Context, path Path) (json.RawMessage, error)
	Set(ctx context.Context, path Path, value any) error
	Update(ctx context.Context, path Path, fields map[string]any) error
	Delete(ctx context.Context, path Path) error
	Subscribe(ctx context.Context, path Path, callback ChangeFunc) (func(), error)
}

// IsUnavailable reports whether err represents a remote-unreachable failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsPermanent reports whether retrying the call cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, ErrInvalidValue)
}

// Decode unmarshals a raw value into target and reports whether a value was present.
func Decode(raw json.RawMessage, target any) (bool, error) {
	if isNullRaw(raw) {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return false, err
	}
	return true, nil
}

func isNullRaw(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
