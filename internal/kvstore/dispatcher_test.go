package kvstore

import (
	"context"
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatcherCleanupReleasesContextWatch(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before := runtime.NumGoroutine()
	for i := 0; i < 1000; i++ {
		cleanup := dispatcher.Register(ctx, "classes/10-M", func(json.RawMessage) {})
		cleanup()
	}
	require.Equal(t, 0, dispatcher.Len())
	require.LessOrEqual(t, runtime.NumGoroutine(), before+10)
}

func TestDispatcherCleanupRunsOnCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	cleanup := dispatcher.Register(ctx, "classes/10-M", func(json.RawMessage) {})
	require.Equal(t, 1, dispatcher.Len())
	cancel()
	require.Eventually(t, func() bool { return dispatcher.Len() == 0 }, timeoutForCleanup, tickForCleanup)
	cleanup()
	require.Equal(t, 0, dispatcher.Len())
}
