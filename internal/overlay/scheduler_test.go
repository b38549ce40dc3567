package overlay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVirtualSchedulerOrdersCallbacks(t *testing.T) {
	start := time.Unix(0, 0)
	scheduler := NewVirtualScheduler(start, 10*time.Millisecond)

	var got []string
	scheduler.After(25*time.Millisecond, func(now time.Time) {
		got = append(got, "after@"+now.Sub(start).String())
	})
	ticks := scheduler.Every(10*time.Millisecond, func(now time.Time) {
		got = append(got, "every@"+now.Sub(start).String())
	})
	var frame func(time.Time)
	frames := 0
	frame = func(time.Time) {
		frames++
		if frames < 3 {
			scheduler.Frame(frame)
		}
	}
	scheduler.Frame(frame)

	scheduler.Advance(30 * time.Millisecond)
	require.Equal(t, []string{"every@10ms", "every@20ms", "after@25ms", "every@30ms"}, got)
	require.Equal(t, 3, frames)
	require.Equal(t, start.Add(30*time.Millisecond), scheduler.Now())

	ticks.Stop()
	require.Zero(t, scheduler.Pending())
	require.Zero(t, scheduler.Advance(time.Second))
}

func TestVirtualSchedulerStopBeforeDue(t *testing.T) {
	scheduler := NewVirtualScheduler(time.Unix(0, 0), 0)
	fired := false
	timer := scheduler.After(time.Second, func(time.Time) { fired = true })
	timer.Stop()
	scheduler.Advance(2 * time.Second)
	require.False(t, fired)
}

func TestRealtimeSchedulerSerializesCallbacks(t *testing.T) {
	scheduler := NewRealtimeScheduler(time.Millisecond)
	defer scheduler.Close()

	var (
		mu      sync.Mutex
		running int
		overlap bool
		count   int
	)
	done := make(chan struct{})
	callback := func(time.Time) {
		mu.Lock()
		running++
		if running > 1 {
			overlap = true
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		running--
		count++
		if count == 10 {
			close(done)
		}
		mu.Unlock()
	}
	first := scheduler.Every(time.Millisecond, callback)
	second := scheduler.Every(time.Millisecond, callback)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callbacks did not run")
	}
	first.Stop()
	second.Stop()
	mu.Lock()
	defer mu.Unlock()
	require.False(t, overlap)
}

func TestRealtimeSchedulerAfterStop(t *testing.T) {
	scheduler := NewRealtimeScheduler(0)
	defer scheduler.Close()

	fired := make(chan struct{}, 1)
	timer := scheduler.After(50*time.Millisecond, func(time.Time) { fired <- struct{}{} })
	timer.Stop()
	timer.Stop()

	scheduler.After(time.Millisecond, func(time.Time) { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}
