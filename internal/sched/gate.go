// internal/sched/gate.go

package sched

import "sync"

// Outcome classifies what a single gate resumption did.
type Outcome int

const (
	// OutcomeReady means the inner computation completed.
	OutcomeReady Outcome = iota
	// OutcomeSuspended means the inner computation was polled and suspended.
	OutcomeSuspended
	// OutcomeGated means the inner computation was not polled because a more
	// urgent level is active. No waker has been registered.
	OutcomeGated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReady:
		return "Ready"
	case OutcomeSuspended:
		return "Suspended"
	case OutcomeGated:
		return "Gated"
	default:
		return "Unknown"
	}
}

// Gate wraps a Future with a priority. On every resumption it consults the
// shared State and only forwards the poll when no strictly more urgent level
// has an active task.
//
// A gated poll returns pending without touching the inner Future and without
// arranging a wake-up, so whoever drives the Gate must poll it again on its
// own schedule. Executor does this with a bounded retry timer.
//
// Poll and Close must not be called concurrently with each other; SetPriority
// may be called from any goroutine.
type Gate[T any] struct {
	inner Future[T]
	state *State
	id    TaskID

	mu         sync.Mutex // guards prio, registered, closed
	prio       Priority
	registered bool
	closed     bool
}

// Wrap gates fut at priority p against st. The gate is registered with st on
// its first poll, not here.
func Wrap[T any](st *State, fut Future[T], p Priority) (*Gate[T], error) {
	if err := checkPriority(p); err != nil {
		return nil, err
	}
	return &Gate[T]{
		inner: fut,
		state: st,
		id:    NextTaskID(),
		prio:  p,
	}, nil
}

// ID returns the task id allocated at construction.
func (g *Gate[T]) ID() TaskID { return g.id }

// Priority returns the current priority.
func (g *Gate[T]) Priority() Priority {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prio
}

// Poll implements Future, so gates compose with anything that drives one.
func (g *Gate[T]) Poll(w Waker) Poll[T] {
	res, _ := g.step(w)
	return res
}

func (g *Gate[T]) step(w Waker) (Poll[T], Outcome) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return Pending[T](), OutcomeGated
	}
	if !g.registered {
		g.state.register(g.prio, g.id)
		g.registered = true
	}
	prio := g.prio
	g.mu.Unlock()

	ceiling, ok := g.state.ceiling()
	if !ok {
		ceiling = MaxPriority
	}
	if prio > ceiling {
		return Pending[T](), OutcomeGated
	}

	res := g.inner.Poll(w)
	if res.Ready {
		g.state.markActive(g.id)
		return res, OutcomeReady
	}
	g.state.markInactive(g.id)
	return res, OutcomeSuspended
}

// SetPriority changes the gate's level. Before the first poll, or after Close,
// only the stored level changes.
func (g *Gate[T]) SetPriority(p Priority) error {
	if err := checkPriority(p); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	old := g.prio
	g.prio = p
	if g.registered && !g.closed && old != p {
		g.state.reprioritize(old, p, g.id)
	}
	return nil
}

// Close deregisters the gate. It is safe to call on a gate that was never
// polled, and more than once.
func (g *Gate[T]) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return
	}
	g.closed = true
	if g.registered {
		g.state.deregister(g.id)
	}
}
