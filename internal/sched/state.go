// internal/sched/state.go

package sched

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// State is the priority table shared by every gate of one scheduler. It maps
// each priority level to the number of tasks currently contending at that
// level, and each registered task to its level.
//
// A task is counted at most once: it is active from registration until it
// suspends, and active again once it completes. Marking an already active
// task active, or an inactive one inactive, changes nothing.
//
// All mutation goes through one mutex. Each operation takes it once and
// releases it before returning; nothing is called back while it is held.
type State struct {
	mu     sync.Mutex
	active *redblacktree.Tree // Priority -> uint64, ordered most urgent first
	tasks  map[TaskID]*entry

	clamps  atomic.Uint64
	onClamp func(TaskID, Priority)
}

type entry struct {
	prio   Priority
	active bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithClampHook registers fn to be told about every count that would have
// gone negative. fn runs after the table lock is released.
func WithClampHook(fn func(TaskID, Priority)) StateOption {
	return func(s *State) {
		s.onClamp = fn
	}
}

// NewState creates an empty priority table.
func NewState(opts ...StateOption) *State {
	s := &State{
		active: redblacktree.NewWith(cmpPriority),
		tasks:  make(map[TaskID]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot is a point-in-time copy of the State tables.
type Snapshot struct {
	Active map[Priority]uint64
	Tasks  map[TaskID]Priority
}

// Snapshot copies both tables under the lock.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Active: make(map[Priority]uint64, s.active.Size()),
		Tasks:  make(map[TaskID]Priority, len(s.tasks)),
	}
	it := s.active.Iterator()
	for it.Next() {
		snap.Active[it.Key().(Priority)] = it.Value().(uint64)
	}
	for id, e := range s.tasks {
		snap.Tasks[id] = e.prio
	}
	return snap
}

// Levels returns the number of entries in the active-count table, zero
// counts included.
func (s *State) Levels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Size()
}

// Clamps returns how many decrements were clamped at zero. Anything other
// than zero points at a register/deregister pairing bug.
func (s *State) Clamps() uint64 { return s.clamps.Load() }

// Ceiling returns the most urgent level with at least one active task.
func (s *State) Ceiling() (Priority, bool) { return s.ceiling() }

// register adds id at level p as an active task. Registering an id twice
// re-keys it as if it had been deregistered first.
func (s *State) register(p Priority, id TaskID) {
	s.mu.Lock()
	if e, ok := s.tasks[id]; ok && e.active {
		s.decr(e.prio)
	}
	s.tasks[id] = &entry{prio: p, active: true}
	s.incr(p)
	s.mu.Unlock()
}

// deregister drops id and its contribution to the counts. The level's entry
// is pruned once its count reaches zero. Unknown ids are ignored.
func (s *State) deregister(id TaskID) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.tasks, id)
	var clamped bool
	if e.active {
		clamped = s.decr(e.prio)
	}
	if n, found := s.active.Get(e.prio); found && n.(uint64) == 0 {
		s.active.Remove(e.prio)
	}
	s.mu.Unlock()

	if clamped {
		s.clamped(id, e.prio)
	}
}

func (s *State) markActive(id TaskID) {
	s.mu.Lock()
	if e, ok := s.tasks[id]; ok && !e.active {
		e.active = true
		s.incr(e.prio)
	}
	s.mu.Unlock()
}

func (s *State) markInactive(id TaskID) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	var clamped bool
	if ok && e.active {
		e.active = false
		clamped = s.decr(e.prio)
	}
	s.mu.Unlock()

	if clamped {
		s.clamped(id, e.prio)
	}
}

// reprioritize re-keys id from old to p, moving its unit of count along with
// it when the task is active. It reports false if id is not registered, in
// which case nothing changes.
func (s *State) reprioritize(old, p Priority, id TaskID) bool {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	var clamped bool
	if e.active {
		clamped = s.decr(old)
		s.incr(p)
	}
	e.prio = p
	s.mu.Unlock()

	if clamped {
		s.clamped(id, old)
	}
	return true
}

// ceiling skips zero-count levels; they are left in place by suspensions and
// only pruned when the last task at the level is removed.
func (s *State) ceiling() (Priority, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.active.Iterator()
	for it.Next() {
		if it.Value().(uint64) > 0 {
			return it.Key().(Priority), true
		}
	}
	return 0, false
}

// incr and decr must be called with mu held.
func (s *State) incr(p Priority) {
	var n uint64
	if v, found := s.active.Get(p); found {
		n = v.(uint64)
	}
	s.active.Put(p, n+1)
}

// decr saturates at zero and reports whether it had to.
func (s *State) decr(p Priority) bool {
	v, found := s.active.Get(p)
	if !found || v.(uint64) == 0 {
		return true
	}
	s.active.Put(p, v.(uint64)-1)
	return false
}

func (s *State) clamped(id TaskID, p Priority) {
	s.clamps.Add(1)
	log.Printf("WARNING: sched: active count for priority %d clamped at zero (task %d)", p, id)
	if s.onClamp != nil {
		s.onClamp(id, p)
	}
}

func cmpPriority(a, b any) int {
	pa, pb := a.(Priority), b.(Priority)
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}
