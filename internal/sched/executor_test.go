package sched

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{TickMS: 1, RetryMinMS: 1, RetryMaxMS: 2}
}

// startExecutor runs e in the background. The returned stop cancels it and
// waits for Run to return; it is also registered as a cleanup.
func startExecutor(t *testing.T, e *Executor) (stop func()) {
	t.Helper()
	e.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			assert.NoError(t, <-done)
		})
	}
	t.Cleanup(stop)
	return stop
}

// yielding wakes itself n times before completing with value.
func yielding(n, value int) Future[int] {
	count := 0
	return FutureFunc[int](func(w Waker) Poll[int] {
		if count < n {
			count++
			w.Wake()
			return Pending[int]()
		}
		return Ready(value)
	})
}

// parked suspends forever without arranging a wake-up.
func parked() Future[int] {
	return FutureFunc[int](func(Waker) Poll[int] { return Pending[int]() })
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func isDone(h *Handle[int]) func() bool {
	return func() bool {
		select {
		case <-h.Done():
			return true
		default:
			return false
		}
	}
}

func TestExecutor_RunsToCompletion(t *testing.T) {
	t.Parallel()

	st := NewState()
	e := New(st, testConfig())
	startExecutor(t, e)

	h1, err := Spawn(e, yielding(3, 42), 7)
	require.NoError(t, err)
	h2, err := Spawn(e, yielding(0, 7), 7)
	require.NoError(t, err)

	got, err := h1.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	got, err = h2.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	assert.Eventually(t, func() bool { return e.Stats().Finished == 2 }, time.Second, time.Millisecond)
	assert.Empty(t, st.Snapshot().Tasks)
	assert.Empty(t, st.Snapshot().Active)
}

func TestExecutor_RetriesGatedTasks(t *testing.T) {
	t.Parallel()

	st := NewState()
	holder := NextTaskID()
	st.register(0, holder)

	e := New(st, testConfig())
	startExecutor(t, e)

	h, err := Spawn(e, yielding(0, 5), 5)
	require.NoError(t, err)

	assert.Never(t, isDone(h), 50*time.Millisecond, 5*time.Millisecond)
	assert.Greater(t, e.Stats().Gated, int64(1), "gated task should be retried")

	st.markInactive(holder)
	got, err := h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	st.deregister(holder)
	assert.Empty(t, st.Snapshot().Tasks)
	assert.Zero(t, st.Clamps())
}

func TestExecutor_SetPriorityLiftsGate(t *testing.T) {
	t.Parallel()

	st := NewState()
	holder := NextTaskID()
	st.register(1, holder)

	e := New(st, testConfig())
	startExecutor(t, e)

	h, err := Spawn(e, yielding(0, 1), 9)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return e.Stats().Gated > 0 }, time.Second, time.Millisecond)

	require.NoError(t, h.SetPriority(1))
	assert.Equal(t, Priority(1), h.Priority())

	_, err = h.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, map[TaskID]Priority{holder: 1}, st.Snapshot().Tasks)

	assert.ErrorIs(t, h.SetPriority(MaxPriority+1), ErrInvalidPriority)
}

func TestExecutor_Cancel(t *testing.T) {
	t.Parallel()

	st := NewState()
	e := New(st, testConfig())
	startExecutor(t, e)

	h, err := Spawn(e, parked(), 3)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return e.Stats().Suspended > 0 }, time.Second, time.Millisecond)
	assert.Contains(t, st.Snapshot().Tasks, h.ID())

	h.Cancel()
	_, err = h.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, st.Snapshot().Tasks)
	assert.Empty(t, st.Snapshot().Active)

	// cancelling a finished task is a no-op
	h.Cancel()
	assert.Eventually(t, func() bool { return e.Stats().Cancelled == 1 }, time.Second, time.Millisecond)
}

func TestExecutor_Shutdown(t *testing.T) {
	t.Parallel()

	st := NewState()
	e := New(st, testConfig())
	stop := startExecutor(t, e)

	polled, err := Spawn(e, parked(), 3)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return e.Stats().Suspended > 0 }, time.Second, time.Millisecond)

	stop()

	require.True(t, isDone(polled)())
	_, err = polled.Result()
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, st.Snapshot().Tasks)
	assert.Empty(t, st.Snapshot().Active)

	_, err = Spawn(e, parked(), 3)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSpawn_InvalidPriority(t *testing.T) {
	t.Parallel()

	e := New(NewState(), testConfig())
	_, err := Spawn(e, parked(), MaxPriority+1)
	assert.ErrorIs(t, err, ErrInvalidPriority)
	assert.Zero(t, e.Stats().Live)
}

func TestExecutor_SharedState(t *testing.T) {
	t.Parallel()

	st := NewState()
	e1, e2 := New(st, testConfig()), New(st, testConfig())
	startExecutor(t, e1)
	startExecutor(t, e2)
	assert.NotEqual(t, e1.Name(), e2.Name())

	var handles []*Handle[int]
	for i := range 10 {
		e := e1
		if i%2 == 1 {
			e = e2
		}
		h, err := Spawn(e, yielding(20, i), Priority(i%4))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for i, h := range handles {
		got, err := h.Wait(waitCtx(t))
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}

	assert.Empty(t, st.Snapshot().Tasks)
	assert.Empty(t, st.Snapshot().Active)
	assert.Zero(t, st.Clamps())
}

func TestExecutor_CSVLogging(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "events.csv")
	e := New(NewState(), testConfig())
	require.NoError(t, e.EnableCSVLogging(path))
	stop := startExecutor(t, e)

	h, err := Spawn(e, yielding(1, 1), 2)
	require.NoError(t, err)
	_, err = h.Wait(waitCtx(t))
	require.NoError(t, err)
	stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timestamp,executor,tick,event,task_id,priority,ceiling,polls")
	assert.Contains(t, string(data), "Enqueued")
	assert.Contains(t, string(data), "Finish")
}
