package job

import (
	"time"

	"priosched/internal/sched"
)

// Sleep returns a future that completes once d has elapsed since its first
// poll. The waker seen on that first poll is woken at the deadline.
func Sleep(d time.Duration) sched.Future[struct{}] {
	return &sleep{d: d}
}

type sleep struct {
	d        time.Duration
	deadline time.Time
	timer    *time.Timer
}

func (s *sleep) Poll(w sched.Waker) sched.Poll[struct{}] {
	now := time.Now()
	if s.deadline.IsZero() {
		s.deadline = now.Add(s.d)
	}
	if !now.Before(s.deadline) {
		if s.timer != nil {
			s.timer.Stop()
		}
		return sched.Ready(struct{}{})
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.deadline.Sub(now), w.Wake)
	}
	return sched.Pending[struct{}]()
}

// Yield returns a future that gives up its turn once: the first poll wakes
// itself and suspends, the second completes.
func Yield() sched.Future[struct{}] {
	return &yield{}
}

type yield struct {
	yielded bool
}

func (y *yield) Poll(w sched.Waker) sched.Poll[struct{}] {
	if y.yielded {
		return sched.Ready(struct{}{})
	}
	y.yielded = true
	w.Wake()
	return sched.Pending[struct{}]()
}
