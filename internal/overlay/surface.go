package overlay

import "sync"

// Surface is the full-viewport container an overlay draws into.
type Surface interface {
	Size() (width, height float64)
	Attached() bool
}

// StaticSurface is a fixed-size surface that can be detached to simulate a removed container.
type StaticSurface struct {
	mu       sync.RWMutex
	width    float64
	height   float64
	attached bool
}

// NewStaticSurface returns an attached surface of the given size.
func NewStaticSurface(width, height float64) *StaticSurface {
	return &StaticSurface{width: width, height: height, attached: true}
}

func (s *StaticSurface) Size() (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

func (s *StaticSurface) Attached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attached
}

// Resize changes the viewport, as a window resize would.
func (s *StaticSurface) Resize(width, height float64) {
	s.mu.Lock()
	s.width, s.height = width, height
	s.mu.Unlock()
}

// Detach removes the container; overlays stop drawing into it.
func (s *StaticSurface) Detach() {
	s.mu.Lock()
	s.attached = false
	s.mu.Unlock()
}

// Attach restores a detached container.
func (s *StaticSurface) Attach() {
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()
}
