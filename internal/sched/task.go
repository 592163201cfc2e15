package sched

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// TaskID uniquely identifies a gated task for the lifetime of the process.
type TaskID uint64

// IDAllocator hands out strictly increasing task IDs. The zero value is ready
// to use and its first ID is 1.
type IDAllocator struct {
	next atomic.Uint64
}

// Next returns an ID greater than every ID returned before it.
func (a *IDAllocator) Next() TaskID {
	return TaskID(a.next.Add(1))
}

// every gate in the process draws from this one counter
var taskIDs IDAllocator

// NextTaskID allocates a process-wide unique TaskID.
func NextTaskID() TaskID { return taskIDs.Next() }

// Priority is an urgency level in [0, MaxPriority]; 0 is the most urgent.
type Priority uint8

// MaxPriority is the least urgent level. It bounds the active-count table to
// MaxPriority+1 entries.
const MaxPriority Priority = 31

// ErrInvalidPriority is returned when a priority lies outside [0, MaxPriority].
var ErrInvalidPriority = errors.New("invalid priority")

// Valid reports whether p is within the supported range.
func (p Priority) Valid() bool { return p <= MaxPriority }

func checkPriority(p Priority) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidPriority, p, MaxPriority)
	}
	return nil
}

// ParsePriority converts an int from configuration into a Priority.
func ParsePriority(v int) (Priority, error) {
	if v < 0 || v > int(MaxPriority) {
		return 0, fmt.Errorf("%w: %d (max %d)", ErrInvalidPriority, v, MaxPriority)
	}
	return Priority(v), nil
}
