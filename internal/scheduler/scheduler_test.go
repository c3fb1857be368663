package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startedRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(testLogger())
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r
}

func TestRegistry_StartStop(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Start(context.Background()))
	require.Error(t, r.Start(context.Background()), "second start must be rejected")

	r.Stop()
	r.Stop() // repeated stop is a no-op

	require.NoError(t, r.Start(context.Background()), "a stopped registry can start again")
	r.Stop()
}

func TestRegistry_RequiresStart(t *testing.T) {
	r := NewRegistry(testLogger())

	err := r.Every("tick", time.Second, false, func(context.Context) {})
	require.ErrorContains(t, err, "not started")
	err = r.Once("oneshot", 0, func(context.Context) {})
	require.ErrorContains(t, err, "not started")
}

func TestRegistry_EveryImmediate(t *testing.T) {
	r := startedRegistry(t)

	var runs atomic.Int32
	require.NoError(t, r.Every("tick", time.Hour, true, func(context.Context) {
		runs.Add(1)
	}))

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestRegistry_EveryTicks(t *testing.T) {
	r := startedRegistry(t)

	var runs atomic.Int32
	require.NoError(t, r.Every("tick", 10*time.Millisecond, false, func(context.Context) {
		runs.Add(1)
	}))

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestRegistry_EveryRejectsBadInterval(t *testing.T) {
	r := startedRegistry(t)
	require.ErrorContains(t, r.Every("tick", 0, false, func(context.Context) {}), "interval must be positive")
}

func TestRegistry_OnceWaitsForDelay(t *testing.T) {
	r := startedRegistry(t)

	var runs atomic.Int32
	require.NoError(t, r.Once("oneshot", 150*time.Millisecond, func(context.Context) {
		runs.Add(1)
	}))

	assert.Zero(t, runs.Load(), "must not fire before the delay")
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Finished one-shots leave the registry.
	require.Eventually(t, func() bool { return len(r.Jobs()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestRegistry_ReplaceResetsOneShot(t *testing.T) {
	r := startedRegistry(t)

	var first, second atomic.Int32
	require.NoError(t, r.Once("oneshot", 50*time.Millisecond, func(context.Context) { first.Add(1) }))
	require.NoError(t, r.Once("oneshot", 50*time.Millisecond, func(context.Context) { second.Add(1) }))

	require.Eventually(t, func() bool { return second.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, first.Load(), "the replaced instance must never fire")
}

func TestRegistry_ReplaceDoesNotOverlap(t *testing.T) {
	r := startedRegistry(t)

	firstRunning := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, r.Once("job", 0, func(context.Context) {
		close(firstRunning)
		<-release
	}))
	<-firstRunning

	var second atomic.Bool
	require.NoError(t, r.Once("job", 0, func(context.Context) {
		second.Store(true)
	}))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, second.Load(), "a replacement must wait for the running instance to return")

	close(release)
	require.Eventually(t, second.Load, 2*time.Second, 5*time.Millisecond)
}

func TestRegistry_Cancel(t *testing.T) {
	r := startedRegistry(t)

	var runs atomic.Int32
	require.NoError(t, r.Once("oneshot", time.Hour, func(context.Context) { runs.Add(1) }))
	assert.Equal(t, []string{"oneshot"}, r.Jobs())

	assert.True(t, r.Cancel("oneshot"))
	assert.False(t, r.Cancel("oneshot"), "cancel of an unknown id reports false")
	assert.Empty(t, r.Jobs())
	assert.Zero(t, runs.Load())
}

func TestRegistry_CronValidation(t *testing.T) {
	r := startedRegistry(t)

	err := r.Cron("backup", "not a cron line", func(context.Context) {})
	require.ErrorContains(t, err, "parsing cron expression")

	require.NoError(t, r.Cron("backup", "0 2 * * *", func(context.Context) {}))
	assert.Equal(t, []string{"backup"}, r.Jobs())
}

func TestRegistry_StopWaitsForRuns(t *testing.T) {
	r := NewRegistry(testLogger())
	require.NoError(t, r.Start(context.Background()))

	started := make(chan struct{})
	exited := make(chan struct{})
	require.NoError(t, r.Once("job", 0, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(exited)
	}))
	<-started

	r.Stop()
	select {
	case <-exited:
	default:
		t.Fatal("Stop returned before the in-flight run exited")
	}
	assert.Empty(t, r.Jobs())
}
