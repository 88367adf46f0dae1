package process

import (
	"errors"
	"fmt"
)

// State transition errors.
var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidPriority   = errors.New("invalid priority")
)

// TaskStatus is the lifecycle state of a task. The numeric values are the
// tags written into TaskInfo.
type TaskStatus uint32

const (
	// StatusReady indicates the task is waiting in the ready collection.
	StatusReady TaskStatus = iota
	// StatusRunning indicates the task is the current task.
	StatusRunning
	// StatusZombie indicates the task has exited and waits to be reaped.
	StatusZombie
)

func (s TaskStatus) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusZombie:
		return "zombie"
	}
	return fmt.Sprintf("TaskStatus(%d)", uint32(s))
}

// StateTransition represents a valid state transition.
type StateTransition struct {
	From TaskStatus
	To   TaskStatus
}

// ValidTransitions defines all valid state transitions.
var ValidTransitions = []StateTransition{
	// Scheduled: Ready -> Running
	{From: StatusReady, To: StatusRunning},
	// Yield or preemption: Running -> Ready
	{From: StatusRunning, To: StatusReady},
	// Exit: Running -> Zombie
	{From: StatusRunning, To: StatusZombie},
}

// IsValidTransition checks if a state transition is valid.
func IsValidTransition(from, to TaskStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the task to a new state. The caller holds the borrow.
func (in *TaskInner) TransitionTo(to TaskStatus) error {
	if !IsValidTransition(in.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, in.Status, to)
	}
	in.Status = to
	return nil
}

// mustTransition is TransitionTo for the scheduler paths, where a bad
// transition means the kernel lost track of a task.
func (in *TaskInner) mustTransition(to TaskStatus) {
	if err := in.TransitionTo(to); err != nil {
		panic(err)
	}
}

// IsZombie reports whether the task has exited.
func (in *TaskInner) IsZombie() bool {
	return in.Status == StatusZombie
}
