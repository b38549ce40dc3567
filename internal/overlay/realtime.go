package overlay

import (
	"sync"
	"sync/atomic"
	"time"
)

// RealtimeScheduler drives callbacks from wall-clock timers and runs them one at a time
// on a single loop goroutine. Close stops the loop; timers created afterwards never fire.
type RealtimeScheduler struct {
	frameInterval time.Duration
	tasks         chan func()
	done          chan struct{}
	closeOnce     sync.Once
	loopDone      chan struct{}
}

// NewRealtimeScheduler starts the loop goroutine.
func NewRealtimeScheduler(frameInterval time.Duration) *RealtimeScheduler {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	s := &RealtimeScheduler{
		frameInterval: frameInterval,
		tasks:         make(chan func()),
		done:          make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *RealtimeScheduler) loop() {
	defer close(s.loopDone)
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.done:
			return
		}
	}
}

// Close stops the loop and waits for the running callback, if any, to return.
func (s *RealtimeScheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.loopDone
}

func (s *RealtimeScheduler) Now() time.Time {
	return time.Now()
}

func (s *RealtimeScheduler) Frame(fn func(time.Time)) Timer {
	return s.After(s.frameInterval, fn)
}

func (s *RealtimeScheduler) After(delay time.Duration, fn func(time.Time)) Timer {
	timer := &realtimeTimer{}
	if fn == nil {
		timer.stopped.Store(true)
		return timer
	}
	wallTimer := time.AfterFunc(delay, func() {
		s.post(timer, fn)
	})
	timer.cancel = func() { wallTimer.Stop() }
	return timer
}

func (s *RealtimeScheduler) Every(interval time.Duration, fn func(time.Time)) Timer {
	timer := &realtimeTimer{}
	if fn == nil {
		timer.stopped.Store(true)
		return timer
	}
	if interval <= 0 {
		interval = time.Millisecond
	}
	stop := make(chan struct{})
	var once sync.Once
	timer.cancel = func() { once.Do(func() { close(stop) }) }
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.post(timer, fn)
			case <-stop:
				return
			case <-s.done:
				return
			}
		}
	}()
	return timer
}

func (s *RealtimeScheduler) post(timer *realtimeTimer, fn func(time.Time)) {
	if timer.stopped.Load() {
		return
	}
	task := func() {
		if timer.stopped.Load() {
			return
		}
		fn(time.Now())
	}
	select {
	case s.tasks <- task:
	case <-s.done:
	}
}

type realtimeTimer struct {
	stopped atomic.Bool
	cancel  func()
}

func (t *realtimeTimer) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	if t.cancel != nil {
		t.cancel()
	}
}
