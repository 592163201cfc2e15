package job

import (
	"fmt"
	"time"

	"priosched/internal/sched"
)

// NativeKind labels reports from native workers.
const NativeKind = "NATIVE_THREAD"

// Spec parameterizes one workload instance.
type Spec struct {
	Kind       string
	ID         uint64
	Priority   sched.Priority
	Millis     int64
	BusyIters  uint64
	Iterations int
}

// Period is the sleep requested each round.
func (s Spec) Period() time.Duration { return time.Duration(s.Millis) * time.Millisecond }

// Expand turns task groups into one Spec per task. Task i of a group (from 1)
// sleeps i*Millis and runs at BasePriority + (i-1)%Priorities.
func Expand(groups []sched.TaskGroup) ([]Spec, error) {
	var specs []Spec
	for _, g := range groups {
		spread := max(g.Priorities, 1)
		for i := 1; i <= g.Count; i++ {
			p, err := sched.ParsePriority(g.BasePriority + (i-1)%spread)
			if err != nil {
				return nil, fmt.Errorf("task group %q: %w", g.Name, err)
			}
			specs = append(specs, Spec{
				Kind:       g.Name,
				ID:         uint64(i),
				Priority:   p,
				Millis:     int64(i) * g.Millis,
				BusyIters:  g.BusyIters,
				Iterations: g.Iterations,
			})
		}
	}
	return specs, nil
}

// NativeSpecs returns one Spec per native worker.
func NativeSpecs(t sched.ThreadGroup) []Spec {
	specs := make([]Spec, 0, t.Count)
	for i := 1; i <= t.Count; i++ {
		specs = append(specs, Spec{
			Kind:      NativeKind,
			ID:        uint64(i),
			Millis:    int64(i) * t.Millis,
			BusyIters: t.BusyIters,
		})
	}
	return specs
}

// SpawnAll spawns a Loop for every spec, spreading them round-robin over
// execs.
func SpawnAll(execs []*sched.Executor, specs []Spec, reporter Reporter) ([]*sched.Handle[int], error) {
	if len(execs) == 0 {
		return nil, fmt.Errorf("spawn %d tasks: no executors", len(specs))
	}
	handles := make([]*sched.Handle[int], 0, len(specs))
	for i, spec := range specs {
		h, err := sched.Spawn[int](execs[i%len(execs)], NewLoop(spec, reporter), spec.Priority)
		if err != nil {
			for _, spawned := range handles {
				spawned.Cancel()
			}
			return nil, fmt.Errorf("spawn %s %d: %w", spec.Kind, spec.ID, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}
