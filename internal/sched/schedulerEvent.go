// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// StatusKind represents the type of executor event
type StatusKind int

const (
	StatusIdle StatusKind = iota
	StatusEnqueue
	StatusDispatch
	StatusGated
	StatusSuspend
	StatusFinish
	StatusCancel
	StatusPriorityUpdate
	StatusTick
)

// StatusEvent is emitted every tick or on key actions
type StatusEvent struct {
	Time     time.Time
	Kind     StatusKind
	TaskID   TaskID
	Priority Priority
	Ceiling  int   // most urgent active level after the event, -1 if none
	Polls    int64 // resumptions offered to the task so far
}

func (sk StatusKind) String() string {
	switch sk {
	case StatusIdle:
		return "Idle"
	case StatusEnqueue:
		return "Enqueued"
	case StatusDispatch:
		return "Dispatch"
	case StatusGated:
		return "Gated"
	case StatusSuspend:
		return "Suspend"
	case StatusFinish:
		return "Finish"
	case StatusCancel:
		return "Cancel"
	case StatusPriorityUpdate:
		return "Reprioritize"
	case StatusTick:
		return "Tick"
	default:
		return "Unknown"
	}
}
