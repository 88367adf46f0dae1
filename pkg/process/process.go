package process

import (
	"errors"
	"fmt"
	"sync/atomic"
	"weak"

	"strideos/pkg/mm"
	"strideos/pkg/upsafe"
)

const (
	// MaxSyscallNum is the size of the per-task syscall counter table.
	MaxSyscallNum = 500
	// DefaultPriority is the priority of new tasks.
	DefaultPriority = 16
	// MinPriority is the lowest priority set_priority accepts.
	MinPriority = 2
	// DefaultBigStride is divided by the priority to get a task's pass.
	DefaultBigStride = 0x100000
)

// Task creation errors.
var (
	ErrHeapUnderflow = errors.New("program break below heap bottom")
)

// SchedParams are the scheduling defaults given to new tasks.
type SchedParams struct {
	BigStride uint64
	Priority  uint64
}

// DefaultSchedParams returns the stock scheduling defaults.
func DefaultSchedParams() SchedParams {
	return SchedParams{BigStride: DefaultBigStride, Priority: DefaultPriority}
}

// PidAllocator hands out process ids. Ids are never reused, so a pid names
// one task for as long as anything can refer to it.
type PidAllocator struct {
	next atomic.Int64
}

// Alloc returns a fresh pid.
func (a *PidAllocator) Alloc() int {
	return int(a.next.Add(1) - 1)
}

// TaskControlBlock is the kernel's record of one process.
type TaskControlBlock struct {
	pid   int
	inner *upsafe.Cell[TaskInner]
}

// TaskInner is the mutable part of a task. It is only reachable through the
// task's exclusive-access cell.
type TaskInner struct {
	// Name is the image the task was last loaded from.
	Name string
	// TrapCx is the saved user register file.
	TrapCx TrapContext
	// BaseSize is the user stack top of the loaded image.
	BaseSize uint64
	// Status is the lifecycle state.
	Status TaskStatus
	// MemorySet is the address space owned by the task.
	MemorySet *mm.MemorySet
	// Parent is resolved with Parent.Value(); nil means orphaned or root.
	Parent weak.Pointer[TaskControlBlock]
	// Children are owned, in creation order.
	Children []*TaskControlBlock
	// ExitCode is valid once the task is a zombie.
	ExitCode int32
	// HeapBottom is where the heap area starts.
	HeapBottom uint64
	// ProgramBrk is the current end of the heap.
	ProgramBrk uint64
	// SyscallTimes counts invocations per syscall number.
	SyscallTimes [MaxSyscallNum]uint32
	// StartTime is when the task was first scheduled, in ms since boot.
	StartTime uint64
	// Started is set once StartTime is valid.
	Started bool
	// Priority is at least MinPriority.
	Priority uint64
	// Stride is the accumulated pass.
	Stride uint64
	// Pass is BigStride / Priority.
	Pass uint64
	// BigStride is the numerator Pass is computed from.
	BigStride uint64
}

// ParentTask resolves the parent reference.
func (in *TaskInner) ParentTask() *TaskControlBlock {
	return in.Parent.Value()
}

// Token returns the page-table token of the task's address space.
func (in *TaskInner) Token() uint64 {
	return in.MemorySet.Token()
}

// SetPriority sets the priority and recomputes the pass.
func (in *TaskInner) SetPriority(prio int64) error {
	if prio < MinPriority {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, prio)
	}
	in.Priority = uint64(prio)
	in.Pass = in.BigStride / in.Priority
	return nil
}

func newInner(name string, ms *mm.MemorySet, userSP, entry uint64, sched SchedParams) TaskInner {
	in := TaskInner{
		Name:       name,
		TrapCx:     AppInitContext(entry, userSP),
		BaseSize:   userSP,
		Status:     StatusReady,
		MemorySet:  ms,
		HeapBottom: userSP,
		ProgramBrk: userSP,
		BigStride:  sched.BigStride,
	}
	if err := in.SetPriority(int64(sched.Priority)); err != nil {
		panic(err)
	}
	return in
}

// NewTask loads image into a fresh address space and returns a Ready task
// that is neither linked to a parent nor enqueued.
func NewTask(mem *mm.Memory, pids *PidAllocator, name string, image []byte, sched SchedParams) (*TaskControlBlock, error) {
	ms, userSP, entry, err := mm.FromImage(mem, image)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	return &TaskControlBlock{
		pid:   pids.Alloc(),
		inner: upsafe.New(newInner(name, ms, userSP, entry, sched)),
	}, nil
}

// Pid returns the process id.
func (t *TaskControlBlock) Pid() int {
	return t.pid
}

// InnerExclusiveAccess borrows the task's mutable state. Release the borrow
// with the returned func, normally through defer.
func (t *TaskControlBlock) InnerExclusiveAccess() (*TaskInner, func()) {
	return t.inner.Exclusive()
}

// WithInner runs fn with the task's mutable state borrowed.
func (t *TaskControlBlock) WithInner(fn func(in *TaskInner)) {
	t.inner.With(fn)
}

// Status returns the current lifecycle state.
func (t *TaskControlBlock) Status() TaskStatus {
	in, release := t.InnerExclusiveAccess()
	defer release()
	return in.Status
}

// Name returns the image name the task runs.
func (t *TaskControlBlock) Name() string {
	in, release := t.InnerExclusiveAccess()
	defer release()
	return in.Name
}

// Fork creates a child with a copy of the address space and trap context.
// The child is linked under t but not enqueued.
func (t *TaskControlBlock) Fork(pids *PidAllocator, sched SchedParams) (*TaskControlBlock, error) {
	parent, release := t.InnerExclusiveAccess()
	defer release()

	ms, err := mm.FromExistedUser(parent.MemorySet)
	if err != nil {
		return nil, fmt.Errorf("fork pid %d: %w", t.pid, err)
	}
	in := newInner(parent.Name, ms, parent.BaseSize, parent.TrapCx.Sepc, sched)
	in.TrapCx = parent.TrapCx
	in.HeapBottom = parent.HeapBottom
	in.ProgramBrk = parent.ProgramBrk
	in.Parent = weak.Make(t)

	child := &TaskControlBlock{pid: pids.Alloc(), inner: upsafe.New(in)}
	parent.Children = append(parent.Children, child)
	return child, nil
}

// Adopt links child under t. It is used by spawn and by reparenting on exit.
func (t *TaskControlBlock) Adopt(child *TaskControlBlock) {
	child.WithInner(func(c *TaskInner) {
		c.Parent = weak.Make(t)
	})
	t.WithInner(func(in *TaskInner) {
		in.Children = append(in.Children, child)
	})
}

// Exec replaces the address space and trap context with a fresh image. The
// pid, family links, scheduling fields and counters are kept.
func (t *TaskControlBlock) Exec(mem *mm.Memory, name string, image []byte) error {
	ms, userSP, entry, err := mm.FromImage(mem, image)
	if err != nil {
		return fmt.Errorf("exec %q: %w", name, err)
	}

	in, release := t.InnerExclusiveAccess()
	defer release()
	old := in.MemorySet
	in.Name = name
	in.MemorySet = ms
	in.TrapCx = AppInitContext(entry, userSP)
	in.BaseSize = userSP
	in.HeapBottom = userSP
	in.ProgramBrk = userSP
	old.Release()
	return nil
}

// ChangeProgramBrk moves the program break by delta bytes and returns the
// old break.
func (t *TaskControlBlock) ChangeProgramBrk(delta int32) (uint64, error) {
	in, release := t.InnerExclusiveAccess()
	defer release()

	old := in.ProgramBrk
	newBrk := int64(old) + int64(delta)
	if newBrk < int64(in.HeapBottom) {
		return 0, fmt.Errorf("%w: %#x < %#x", ErrHeapUnderflow, newBrk, in.HeapBottom)
	}
	var err error
	if delta < 0 {
		err = in.MemorySet.ShrinkTo(mm.VirtAddr(in.HeapBottom), mm.VirtAddr(newBrk))
	} else {
		err = in.MemorySet.AppendTo(mm.VirtAddr(in.HeapBottom), mm.VirtAddr(newBrk))
	}
	if err != nil {
		return 0, err
	}
	in.ProgramBrk = uint64(newBrk)
	return old, nil
}

// SetPriority changes the priority of the task.
func (t *TaskControlBlock) SetPriority(prio int64) error {
	in, release := t.InnerExclusiveAccess()
	defer release()
	return in.SetPriority(prio)
}

// RecordSyscall bumps the counter for syscall id. Ids outside the table are
// not counted.
func (t *TaskControlBlock) RecordSyscall(id uint64) {
	if id >= MaxSyscallNum {
		return
	}
	t.WithInner(func(in *TaskInner) {
		in.SyscallTimes[id]++
	})
}
