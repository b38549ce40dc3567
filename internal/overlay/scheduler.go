package overlay

import (
	"container/heap"
	"sync"
	"time"
)

// DefaultFrameInterval approximates a 60 Hz display refresh.
const DefaultFrameInterval = time.Second / 60

// Timer is a scheduled callback that can still be cancelled.
type Timer interface {
	Stop()
}

// Scheduler runs the timed callbacks of an overlay: display frames, fixed intervals and
// one-shot delays. Implementations never run two callbacks at the same time.
type Scheduler interface {
	Now() time.Time
	// Frame runs fn once at the next display refresh.
	Frame(fn func(now time.Time)) Timer
	Every(interval time.Duration, fn func(now time.Time)) Timer
	After(delay time.Duration, fn func(now time.Time)) Timer
}

// VirtualScheduler advances simulated time only when told to. Callbacks run on the
// goroutine calling Advance, in due-time order.
type VirtualScheduler struct {
	mu            sync.Mutex
	now           time.Time
	frameInterval time.Duration
	sequence      uint64
	events        eventQueue
}

// NewVirtualScheduler starts simulated time at start.
func NewVirtualScheduler(start time.Time, frameInterval time.Duration) *VirtualScheduler {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	return &VirtualScheduler{now: start, frameInterval: frameInterval}
}

func (s *VirtualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *VirtualScheduler) Frame(fn func(time.Time)) Timer {
	return s.schedule(s.frameInterval, 0, fn)
}

func (s *VirtualScheduler) Every(interval time.Duration, fn func(time.Time)) Timer {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return s.schedule(interval, interval, fn)
}

func (s *VirtualScheduler) After(delay time.Duration, fn func(time.Time)) Timer {
	if delay < 0 {
		delay = 0
	}
	return s.schedule(delay, 0, fn)
}

// Advance moves simulated time forward by d, running every callback that falls due,
// including ones scheduled by callbacks along the way. It returns how many ran.
func (s *VirtualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	ran := 0
	for {
		s.mu.Lock()
		if len(s.events) == 0 || s.events[0].due.After(target) {
			s.now = target
			s.mu.Unlock()
			return ran
		}
		event := heap.Pop(&s.events).(*virtualEvent)
		if event.stopped {
			s.mu.Unlock()
			continue
		}
		s.now = event.due
		if event.period > 0 {
			event.due = event.due.Add(event.period)
			s.sequence++
			event.sequence = s.sequence
			heap.Push(&s.events, event)
		}
		now := s.now
		s.mu.Unlock()

		event.fn(now)
		ran++
	}
}

// Pending reports how many callbacks are still scheduled.
func (s *VirtualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := 0
	for _, event := range s.events {
		if !event.stopped {
			pending++
		}
	}
	return pending
}

func (s *VirtualScheduler) schedule(delay, period time.Duration, fn func(time.Time)) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	event := &virtualEvent{
		owner:    s,
		due:      s.now.Add(delay),
		period:   period,
		sequence: s.sequence,
		fn:       fn,
	}
	if fn == nil {
		event.stopped = true
		return event
	}
	heap.Push(&s.events, event)
	return event
}

type virtualEvent struct {
	owner    *VirtualScheduler
	due      time.Time
	period   time.Duration
	sequence uint64
	fn       func(time.Time)
	stopped  bool
	index    int
}

func (e *virtualEvent) Stop() {
	e.owner.mu.Lock()
	e.stopped = true
	e.owner.mu.Unlock()
}

type eventQueue []*virtualEvent

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].sequence < q[j].sequence
	}
	return q[i].due.Before(q[j].due)
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	event := x.(*virtualEvent)
	event.index = len(*q)
	*q = append(*q, event)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	event := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return event
}
