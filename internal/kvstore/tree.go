package kvstore

import (
	"encoding/json"
	"fmt"
)

// Tree is a JSON document addressed by slash paths. It is not safe for concurrent use.
type Tree struct {
	root map[string]any
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{root: map[string]any{}}
}

// TreeFromJSON builds a tree from a serialized object; empty input yields an empty tree.
func TreeFromJSON(raw []byte) (*Tree, error) {
	tree := NewTree()
	if isNullRaw(raw) {
		return tree, nil
	}
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if root != nil {
		tree.root = root
	}
	return tree, nil
}

// MarshalJSON serializes the whole tree.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.root)
}

// Raw returns the serialized value at path or nil when absent.
func (t *Tree) Raw(path Path) (json.RawMessage, error) {
	value, ok := t.lookup(path)
	if !ok {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return encoded, nil
}

// Set replaces the subtree at path. A nil or empty-object value deletes it.
func (t *Tree) Set(path Path, value any) error {
	normalized, err := normalizeValue(value)
	if err != nil {
		return err
	}
	if isEmptyValue(normalized) {
		t.Delete(path)
		return nil
	}
	segments := path.Segments()
	if len(segments) == 0 {
		object, ok := normalized.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: root must be an object", ErrInvalidValue)
		}
		t.root = object
		return nil
	}
	parent := t.ensureParent(segments)
	parent[segments[len(segments)-1]] = normalized
	return nil
}

// Update merges fields into the object at path; nil field values delete keys.
func (t *Tree) Update(path Path, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	normalizedFields := make(map[string]any, len(fields))
	for key, value := range fields {
		if err := validateSegment(key); err != nil {
			return err
		}
		normalized, err := normalizeValue(value)
		if err != nil {
			return err
		}
		normalizedFields[key] = normalized
	}

	current, _ := t.lookup(path)
	object, ok := current.(map[string]any)
	if !ok {
		object = map[string]any{}
	}
	for key, value := range normalizedFields {
		if isEmptyValue(value) {
			delete(object, key)
			continue
		}
		object[key] = value
	}

	segments := path.Segments()
	if len(segments) == 0 {
		t.root = object
		return nil
	}
	parent := t.ensureParent(segments)
	parent[segments[len(segments)-1]] = object
	t.prune(segments)
	return nil
}

// Delete removes the subtree at path and any ancestors it leaves empty.
func (t *Tree) Delete(path Path) {
	segments := path.Segments()
	if len(segments) == 0 {
		t.root = map[string]any{}
		return
	}
	parent, ok := t.parentOf(segments)
	if !ok {
		return
	}
	delete(parent, segments[len(segments)-1])
	t.prune(segments[:len(segments)-1])
}

func (t *Tree) lookup(path Path) (any, bool) {
	var node any = t.root
	for _, segment := range path.Segments() {
		object, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = object[segment]
		if !ok {
			return nil, false
		}
	}
	if object, ok := node.(map[string]any); ok && len(object) == 0 {
		return nil, false
	}
	return node, true
}

func (t *Tree) parentOf(segments []string) (map[string]any, bool) {
	node := t.root
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

func (t *Tree) ensureParent(segments []string) map[string]any {
	node := t.root
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[segment] = child
		}
		node = child
	}
	return node
}

// prune walks from the deepest segment upwards removing empty objects.
func (t *Tree) prune(segments []string) {
	for depth := len(segments); depth > 0; depth-- {
		parent, ok := t.parentOf(segments[:depth])
		if !ok {
			return
		}
		key := segments[depth-1]
		child, isObject := parent[key].(map[string]any)
		if !isObject || len(child) > 0 {
			return
		}
		delete(parent, key)
	}
}

func normalizeValue(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	var encoded []byte
	switch typed := value.(type) {
	case json.RawMessage:
		encoded = typed
	case []byte:
		encoded = typed
	default:
		var err error
		encoded, err = json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
	}
	if isNullRaw(encoded) {
		return nil, nil
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return normalized, nil
}

func isEmptyValue(value any) bool {
	if value == nil {
		return true
	}
	object, ok := value.(map[string]any)
	return ok && len(object) == 0
}
