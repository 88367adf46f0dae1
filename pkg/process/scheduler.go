package process

import (
	"strideos/pkg/upsafe"
)

// Scheduler interface defines the contract for the ready collection.
type Scheduler interface {
	// Add makes a task eligible to run.
	Add(t *TaskControlBlock)
	// Fetch removes and returns the next task to run.
	Fetch() (*TaskControlBlock, bool)
	// Remove drops a task from the ready collection.
	Remove(pid int) bool
	// Len returns the number of ready tasks.
	Len() int
}

// TaskManager is a stride scheduler. Each fetch picks the ready task with
// the smallest stride and advances it by its pass, so over time a task runs
// in proportion to its priority.
//
// Strides are uint64 and wrap modulo 2^64.
type TaskManager struct {
	ready *upsafe.Cell[[]*TaskControlBlock]
}

var _ Scheduler = (*TaskManager)(nil)

// NewTaskManager creates an empty stride scheduler.
func NewTaskManager() *TaskManager {
	return &TaskManager{ready: upsafe.New[[]*TaskControlBlock](nil)}
}

// Add appends t to the ready collection.
func (m *TaskManager) Add(t *TaskControlBlock) {
	m.ready.With(func(q *[]*TaskControlBlock) {
		*q = append(*q, t)
	})
}

// Fetch removes the ready task with the minimum stride. Among equal strides
// the first task with a strictly greater priority wins. The chosen task's
// stride is advanced by its pass before it is returned.
func (m *TaskManager) Fetch() (*TaskControlBlock, bool) {
	q, release := m.ready.Exclusive()
	defer release()

	if len(*q) == 0 {
		return nil, false
	}

	best := -1
	var bestStride, bestPrio uint64
	for i, t := range *q {
		var stride, prio uint64
		t.WithInner(func(in *TaskInner) {
			stride, prio = in.Stride, in.Priority
		})
		if best < 0 || stride < bestStride || (stride == bestStride && prio > bestPrio) {
			best, bestStride, bestPrio = i, stride, prio
		}
	}

	t := (*q)[best]
	*q = append((*q)[:best], (*q)[best+1:]...)
	t.WithInner(func(in *TaskInner) {
		in.Stride += in.Pass
	})
	return t, true
}

// Remove drops the task with the given pid. It reports whether it was queued.
func (m *TaskManager) Remove(pid int) bool {
	q, release := m.ready.Exclusive()
	defer release()
	for i, t := range *q {
		if t.Pid() == pid {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of ready tasks.
func (m *TaskManager) Len() int {
	q, release := m.ready.Exclusive()
	defer release()
	return len(*q)
}
