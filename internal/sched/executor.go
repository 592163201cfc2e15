// internal/sched/executor.go

package sched

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/deque"
	"github.com/google/uuid"
)

var (
	// ErrCancelled is the result of a task that was cancelled or still pending
	// when its executor stopped.
	ErrCancelled = errors.New("task cancelled")
	// ErrStopped is returned by Spawn once the executor has shut down.
	ErrStopped = errors.New("executor stopped")
)

// Executor is a cooperative, single-goroutine event loop that drives gated
// tasks to completion and streams state changes.
//
// Suspended tasks are polled again when they wake themselves. Gated tasks
// register no waker, so the executor re-offers them on a timer whose delay
// grows from RetryMin to RetryMax while they stay gated. Several executors
// may share one State; priorities then apply across all of them.
type Executor struct {
	name     string
	state    *State
	clock    *TickClock
	tick     time.Duration
	retryMin time.Duration
	retryMax time.Duration
	verbose  bool

	mu      sync.Mutex         // protects the run queue and task table
	queue   deque.Deque[*task] // tasks ready to be polled, in FIFO order
	tasks   map[TaskID]*task   // every live task by ID
	pending []StatusEvent      // events raised outside the loop goroutine
	stopped bool

	notifyCh chan struct{}
	statusCh chan StatusEvent // channel for status events

	polls, gated, suspended, finished, cancelled atomic.Int64

	// logging-related
	out       io.Writer
	csvFile   *os.File
	csvWriter *csv.Writer
}

// task is the type-erased view of a spawned Gate the loop works with.
type task struct {
	id       TaskID
	step     func(Waker) Outcome
	finish   func(error)
	priority func() Priority
	waker    Waker

	// guarded by Executor.mu
	queued    bool
	cancelled bool

	// owned by the loop goroutine
	polls int64
	retry *backoff.ExponentialBackOff
	timer *time.Timer
}

// New creates an executor over st with the given configuration.
func New(st *State, cfg Config) *Executor {
	if cfg.TickMS <= 0 {
		cfg.TickMS = 5
	}
	if cfg.RetryMinMS <= 0 {
		cfg.RetryMinMS = 1
	}
	if cfg.RetryMaxMS < cfg.RetryMinMS {
		cfg.RetryMaxMS = cfg.RetryMinMS
	}

	return &Executor{
		name:     "exec-" + uuid.NewString()[:8],
		state:    st,
		clock:    NewTickClock(1),
		tick:     cfg.Tick(),
		retryMin: cfg.RetryMin(),
		retryMax: cfg.RetryMax(),
		verbose:  cfg.Verbose,
		tasks:    make(map[TaskID]*task),
		notifyCh: make(chan struct{}, 1),
		statusCh: make(chan StatusEvent, 256), // buffered channel for status events
		out:      os.Stdout,
	}
}

// Name identifies the executor in printed and CSV output.
func (e *Executor) Name() string { return e.name }

// SetOutput redirects the human-readable event log. Must be called before Run().
func (e *Executor) SetOutput(w io.Writer) { e.out = w }

// EnableCSVLogging opens the given file path for CSV logging of events.
// Must be called before Run().
func (e *Executor) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)

	// write header
	w.Write([]string{"timestamp", "executor", "tick", "event", "task_id", "priority", "ceiling", "polls"})
	w.Flush()
	e.csvFile = f
	e.csvWriter = w
	return nil
}

// StatusChannel exposes read-only stream (optional consumers).
func (e *Executor) StatusChannel() <-chan StatusEvent { return e.statusCh }

// Run drives tasks until ctx is done. Tasks still live at that point are
// cancelled and their gates deregistered before Run returns.
func (e *Executor) Run(ctx context.Context) error {
	// start loop
	go e.loop(ctx)

	// consume events
	for ev := range e.statusCh {
		e.handleEvent(ev)
	}

	if e.csvFile != nil {
		e.csvWriter.Flush()
		if err := e.csvFile.Close(); err != nil {
			return fmt.Errorf("close csv log: %w", err)
		}
	}
	return nil
}

// Stats is a snapshot of executor counters.
type Stats struct {
	Name      string
	Live      int
	Queued    int
	Polls     int64
	Gated     int64
	Suspended int64
	Finished  int64
	Cancelled int64
}

// Stats returns the current counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	live, queued := len(e.tasks), e.queue.Len()
	e.mu.Unlock()

	return Stats{
		Name:      e.name,
		Live:      live,
		Queued:    queued,
		Polls:     e.polls.Load(),
		Gated:     e.gated.Load(),
		Suspended: e.suspended.Load(),
		Finished:  e.finished.Load(),
		Cancelled: e.cancelled.Load(),
	}
}

// Handle is the caller's view of a spawned task.
type Handle[T any] struct {
	gate *Gate[T]
	exec *Executor
	done chan struct{}

	// written by the loop before done is closed
	value T
	err   error
}

// Spawn gates fut at priority p and schedules it on e. The task is polled for
// the first time once the executor's loop picks it up.
func Spawn[T any](e *Executor, fut Future[T], p Priority) (*Handle[T], error) {
	g, err := Wrap(e.state, fut, p)
	if err != nil {
		return nil, err
	}
	h := &Handle[T]{gate: g, exec: e, done: make(chan struct{})}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = e.retryMin
	retry.MaxInterval = e.retryMax
	retry.MaxElapsedTime = 0
	retry.RandomizationFactor = 0.2
	retry.Reset()

	t := &task{
		id: g.ID(),
		step: func(w Waker) Outcome {
			res, out := g.step(w)
			if out == OutcomeReady {
				h.value = res.Value
			}
			return out
		},
		finish: func(err error) {
			g.Close()
			h.err = err
			close(h.done)
		},
		priority: g.Priority,
		retry:    retry,
	}
	t.waker = WakerFunc(func() { e.wake(t) })

	ev := e.event(StatusEnqueue, t)
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrStopped
	}
	e.tasks[t.id] = t
	e.pending = append(e.pending, ev)
	e.enqueueLocked(t)
	e.mu.Unlock()

	e.notify()
	return h, nil
}

// ID returns the task's id.
func (h *Handle[T]) ID() TaskID { return h.gate.ID() }

// Priority returns the task's current priority.
func (h *Handle[T]) Priority() Priority { return h.gate.Priority() }

// Done is closed once the task has finished or been cancelled.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Result returns the task's value, or ErrCancelled. It must only be called
// after Done is closed.
func (h *Handle[T]) Result() (T, error) { return h.value, h.err }

// Wait blocks until the task is done or ctx expires.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel asks the executor to drop the task. Its gate is closed on the loop
// goroutine; Done is closed afterwards.
func (h *Handle[T]) Cancel() { h.exec.cancel(h.gate.ID()) }

// SetPriority changes the task's priority on the fly.
func (h *Handle[T]) SetPriority(p Priority) error {
	if err := h.gate.SetPriority(p); err != nil {
		return err
	}
	h.exec.record(StatusEvent{
		Time:     time.Now(),
		Kind:     StatusPriorityUpdate,
		TaskID:   h.gate.ID(),
		Priority: p,
	})
	return nil
}

func (e *Executor) wake(t *task) {
	e.mu.Lock()
	if _, live := e.tasks[t.id]; !live || t.queued {
		e.mu.Unlock()
		return
	}
	e.enqueueLocked(t)
	e.mu.Unlock()
	e.notify()
}

func (e *Executor) cancel(id TaskID) {
	e.mu.Lock()
	t, live := e.tasks[id]
	if !live {
		e.mu.Unlock()
		return
	}
	t.cancelled = true
	if !t.queued {
		e.enqueueLocked(t)
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Executor) record(ev StatusEvent) {
	e.mu.Lock()
	if !e.stopped {
		e.pending = append(e.pending, ev)
	}
	e.mu.Unlock()
	e.notify()
}

// must be called with mu held
func (e *Executor) enqueueLocked(t *task) {
	t.queued = true
	e.queue.PushBack(t)
}

func (e *Executor) notify() {
	select {
	case e.notifyCh <- struct{}{}:
	default:
	}
}

// loop runs the main dispatch loop, which is responsible for polling the next ready task
func (e *Executor) loop(ctx context.Context) {
	e.clock.Start(e.tick)
	defer func() {
		// stop the underlying clock to release its goroutine
		e.clock.Stop()
		e.shutdown()
		close(e.statusCh)
	}()

	for {
		// 1) check shutdown
		if ctx.Err() != nil {
			return
		}

		// 2) take the next live task, and any events raised elsewhere
		e.mu.Lock()
		events := e.pending
		e.pending = nil
		var next *task
		var cancelled bool
		for e.queue.Len() > 0 {
			t := e.queue.PopFront()
			t.queued = false
			if _, live := e.tasks[t.id]; live {
				next, cancelled = t, t.cancelled
				break
			}
		}
		e.mu.Unlock()

		for _, ev := range events {
			e.emit(ev)
		}

		// 3) idle case: wait for a wake-up, still emitting ticks
		if next == nil {
			select {
			case <-ctx.Done():
				return
			case <-e.notifyCh:
			case <-e.clock.Ch:
				e.emit(StatusEvent{Time: time.Now(), Kind: StatusTick, Ceiling: e.ceiling()})
			}
			continue
		}

		if cancelled {
			e.finish(next, StatusCancel, ErrCancelled)
			continue
		}

		// 4) resume the task once through its gate
		e.poll(next)
	}
}

func (e *Executor) poll(t *task) {
	t.polls++
	e.polls.Add(1)
	if e.verbose {
		e.emit(e.event(StatusDispatch, t))
	}

	switch t.step(t.waker) {
	case OutcomeReady:
		e.finish(t, StatusFinish, nil)

	case OutcomeGated:
		// nothing will wake a gated task, so arm a retry
		e.gated.Add(1)
		if t.timer != nil {
			t.timer.Stop()
		}
		t.timer = time.AfterFunc(t.retry.NextBackOff(), t.waker.Wake)
		e.emit(e.event(StatusGated, t))

	case OutcomeSuspended:
		e.suspended.Add(1)
		t.retry.Reset()
		e.emit(e.event(StatusSuspend, t))
	}
}

func (e *Executor) finish(t *task, kind StatusKind, err error) {
	e.mu.Lock()
	delete(e.tasks, t.id)
	e.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.finish(err)

	if kind == StatusCancel {
		e.cancelled.Add(1)
	} else {
		e.finished.Add(1)
	}
	e.emit(e.event(kind, t))
}

// shutdown cancels every task still live when the loop exits.
func (e *Executor) shutdown() {
	e.mu.Lock()
	e.stopped = true
	live := make([]*task, 0, len(e.tasks))
	for _, t := range e.tasks {
		live = append(live, t)
	}
	e.queue.Clear()
	e.pending = nil
	e.mu.Unlock()

	for _, t := range live {
		e.finish(t, StatusCancel, ErrCancelled)
	}
}

func (e *Executor) emit(ev StatusEvent) {
	e.statusCh <- ev
}

func (e *Executor) event(kind StatusKind, t *task) StatusEvent {
	return StatusEvent{
		Time:     time.Now(),
		Kind:     kind,
		TaskID:   t.id,
		Priority: t.priority(),
		Ceiling:  e.ceiling(),
		Polls:    t.polls,
	}
}

func (e *Executor) ceiling() int {
	if p, ok := e.state.ceiling(); ok {
		return int(p)
	}
	return -1
}

func (e *Executor) handleEvent(ev StatusEvent) {
	// if we received a tick event which periodically occurs,
	// we can just return early and not log it for the brevity of output.
	if ev.Kind == StatusTick {
		return
	}

	// CSV output
	if e.csvWriter != nil {
		rec := []string{
			ev.Time.Format(time.RFC3339Nano),
			e.name,
			strconv.FormatInt(e.clock.Count(), 10),
			ev.Kind.String(),
			strconv.FormatUint(uint64(ev.TaskID), 10),
			strconv.Itoa(int(ev.Priority)),
			strconv.Itoa(ev.Ceiling),
			strconv.FormatInt(ev.Polls, 10),
		}
		e.csvWriter.Write(rec)
		e.csvWriter.Flush()
	}

	switch ev.Kind {
	case StatusDispatch, StatusGated, StatusSuspend:
		if !e.verbose {
			return
		}
	}

	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := int(float64(width-len(str)) / 2)
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	ceiling := "-"
	if ev.Ceiling >= 0 {
		ceiling = strconv.Itoa(ev.Ceiling)
	}
	fmt.Fprintf(e.out, "%s = %s Tick: %07d [%s] => Task: %04d, Priority: %02d, Ceiling: %2s, Polls: %06d\n",
		ev.Time.Format("Jan 02 15:04:05.000"),
		e.name,
		e.clock.Count(),
		center(ev.Kind.String(), 16),
		ev.TaskID,
		ev.Priority,
		ceiling,
		ev.Polls,
	)
}
