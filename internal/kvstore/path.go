package kvstore

import (
	"fmt"
	"strings"
)

const (
	rootClasses = "classes"
	rootUsers   = "users"
	rootEvents  = "events"

	segmentGallery = "gallery"
	segmentActive  = "active"
	segmentConfig  = "config"
)

const forbiddenPathCharacters = "#$[]"

// Path is a validated slash-delimited store address.
type Path string

// ParsePath normalizes raw input and validates every segment.
// The empty string (after trimming slashes) addresses the root.
func ParsePath(rawInput string) (Path, error) {
	trimmed := strings.Trim(strings.TrimSpace(rawInput), "/")
	if trimmed == "" {
		return "", nil
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if err := validateSegment(segment); err != nil {
			return "", err
		}
	}
	return Path(trimmed), nil
}

func validateSegment(segment string) error {
	switch {
	case segment == "":
		return fmt.Errorf("%w: empty segment", ErrInvalidPath)
	case segment == "." || segment == "..":
		return fmt.Errorf("%w: relative segment %q", ErrInvalidPath, segment)
	case strings.Contains(segment, "/"):
		return fmt.Errorf("%w: segment %q contains a slash", ErrInvalidPath, segment)
	case strings.ContainsAny(segment, forbiddenPathCharacters):
		return fmt.Errorf("%w: segment %q contains one of %q", ErrInvalidPath, segment, forbiddenPathCharacters)
	}
	return nil
}

// String returns the path without leading or trailing slashes.
func (p Path) String() string {
	return string(p)
}

// Segments splits the path; the root path has no segments.
func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), "/")
}

// Root returns the first segment.
func (p Path) Root() string {
	segments := p.Segments()
	if len(segments) == 0 {
		return ""
	}
	return segments[0]
}

// Child appends a single segment.
func (p Path) Child(segment string) (Path, error) {
	if err := validateSegment(segment); err != nil {
		return "", err
	}
	if p == "" {
		return Path(segment), nil
	}
	return Path(string(p) + "/" + segment), nil
}

// Overlaps reports whether a write to one path can change the value observed at the other.
func (p Path) Overlaps(other Path) bool {
	return p.IsAncestorOf(other) || other.IsAncestorOf(p)
}

// IsAncestorOf reports whether p equals other or contains it.
func (p Path) IsAncestorOf(other Path) bool {
	if p == "" || p == other {
		return true
	}
	return strings.HasPrefix(string(other), string(p)+"/")
}

func mustJoin(segments ...string) Path {
	path, err := ParsePath(strings.Join(segments, "/"))
	if err != nil {
		panic(err)
	}
	return path
}

func joinChecked(segments ...string) (Path, error) {
	for _, segment := range segments {
		if err := validateSegment(segment); err != nil {
			return "", err
		}
	}
	return Path(strings.Join(segments, "/")), nil
}

// ClassPath addresses the class record holding homework and gallery.
func ClassPath(className string) (Path, error) {
	return joinChecked(rootClasses, className)
}

// GalleryPath addresses the gallery map of a class.
func GalleryPath(className string) (Path, error) {
	return joinChecked(rootClasses, className, segmentGallery)
}

// ImagePath addresses a single gallery image.
func ImagePath(className, imageID string) (Path, error) {
	return joinChecked(rootClasses, className, segmentGallery, imageID)
}

// UsersPath addresses the access key directory.
func UsersPath() Path {
	return mustJoin(rootUsers)
}

// UserKeyPath addresses one access key inside a users directory (a class or "administration").
func UserKeyPath(directory, key string) (Path, error) {
	return joinChecked(rootUsers, directory, key)
}

// EventActivePath addresses the active overlay pointer.
func EventActivePath() Path {
	return mustJoin(rootEvents, segmentActive)
}

// EventConfigPath addresses the persisted tunables of one overlay.
func EventConfigPath(eventName string) (Path, error) {
	return joinChecked(rootEvents, segmentConfig, eventName)
}

// IsUsersPath reports whether the path is inside the access key directory.
func IsUsersPath(p Path) bool {
	return p.Root() == rootUsers
}

// IsEventsPath reports whether the path is inside the overlay state tree.
func IsEventsPath(p Path) bool {
	return p.Root() == rootEvents
}

// ClassOf returns the class segment of a classes/... path.
func ClassOf(p Path) (string, bool) {
	segments := p.Segments()
	if len(segments) < 2 || segments[0] != rootClasses {
		return "", false
	}
	return segments[1], true
}
