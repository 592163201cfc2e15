package job

import (
	"context"
	"time"

	"priosched/internal/sched"
)

// sink keeps the compiler from discarding busy work.
var sink uint64

// BusyWork spins for iters rounds of integer arithmetic.
func BusyWork(iters uint64) uint64 {
	var total uint64
	for range iters {
		total++
		total = total * 3 / 2
	}
	sink = total
	return total
}

// AsyncBusyWork is BusyWork that yields to the executor after every round.
func AsyncBusyWork(iters uint64) sched.Future[uint64] {
	return &asyncBusy{iters: iters}
}

type asyncBusy struct {
	iters, done uint64
	total       uint64
}

func (b *asyncBusy) Poll(w sched.Waker) sched.Poll[uint64] {
	if b.done >= b.iters {
		sink = b.total
		return sched.Ready(b.total)
	}
	b.total++
	b.total = b.total * 3 / 2
	b.done++
	w.Wake()
	return sched.Pending[uint64]()
}

// Iteration is one round of a work loop: a busy phase followed by a sleep.
type Iteration struct {
	Kind     string
	ID       uint64
	N        int
	Busy     time.Duration // time spent in the busy phase
	Expected time.Duration // requested sleep
	Actual   time.Duration // start of the round to end of the sleep
	Full     time.Duration // end of the previous round to end of this one
}

// Reporter receives one Iteration per completed round.
type Reporter interface {
	Report(Iteration)
}

type phase int

const (
	phaseStart phase = iota
	phaseBusy
	phaseSleep
)

// Loop is the gated workload: it alternates AsyncBusyWork and Sleep for
// spec.Iterations rounds (forever when zero) and completes with the number
// of rounds run.
type Loop struct {
	spec     Spec
	reporter Reporter

	phase      phase
	n          int
	busy       sched.Future[uint64]
	sleep      sched.Future[struct{}]
	iterStart  time.Time
	busyStart  time.Time
	busyDur    time.Duration
	lastReport time.Time
}

// NewLoop builds the work loop for spec. reporter may be nil.
func NewLoop(spec Spec, reporter Reporter) *Loop {
	return &Loop{spec: spec, reporter: reporter}
}

func (l *Loop) Poll(w sched.Waker) sched.Poll[int] {
	for {
		switch l.phase {
		case phaseStart:
			if l.spec.Iterations > 0 && l.n >= l.spec.Iterations {
				return sched.Ready(l.n)
			}
			now := time.Now()
			if l.lastReport.IsZero() {
				l.lastReport = now
			}
			l.iterStart = now
			l.n++
			l.busyDur = 0
			if l.spec.BusyIters > 0 {
				l.busy = AsyncBusyWork(l.spec.BusyIters)
				l.busyStart = now
				l.phase = phaseBusy
			} else {
				l.startSleep()
			}

		case phaseBusy:
			if !l.busy.Poll(w).Ready {
				return sched.Pending[int]()
			}
			l.busyDur = time.Since(l.busyStart)
			l.startSleep()

		case phaseSleep:
			if !l.sleep.Poll(w).Ready {
				return sched.Pending[int]()
			}
			l.report(time.Now())
			l.phase = phaseStart
		}
	}
}

func (l *Loop) startSleep() {
	l.sleep = Sleep(l.spec.Period())
	l.phase = phaseSleep
}

func (l *Loop) report(end time.Time) {
	if l.reporter != nil {
		l.reporter.Report(Iteration{
			Kind:     l.spec.Kind,
			ID:       l.spec.ID,
			N:        l.n,
			Busy:     l.busyDur,
			Expected: l.spec.Period(),
			Actual:   end.Sub(l.iterStart),
			Full:     end.Sub(l.lastReport),
		})
	}
	l.lastReport = end
}

// RunNative is the native-thread counterpart of Loop: it blocks its
// goroutine in BusyWork and time.Sleep-style waits instead of yielding. It
// returns nil when ctx ends and after spec.Iterations rounds otherwise.
func RunNative(ctx context.Context, spec Spec, reporter Reporter) error {
	last := time.Now()
	for n := 1; spec.Iterations == 0 || n <= spec.Iterations; n++ {
		start := time.Now()
		BusyWork(spec.BusyIters)
		busy := time.Since(start)

		timer := time.NewTimer(spec.Period())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		end := time.Now()
		if reporter != nil {
			reporter.Report(Iteration{
				Kind:     spec.Kind,
				ID:       spec.ID,
				N:        n,
				Busy:     busy,
				Expected: spec.Period(),
				Actual:   end.Sub(start),
				Full:     end.Sub(last),
			})
		}
		last = end
	}
	return nil
}
