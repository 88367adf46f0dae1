// Package syscalls implements the syscall layer: it decodes raw arguments,
// translates user pointers through the caller's page table and calls into
// the process and memory packages.
//
// Results follow the guest ABI: a non-negative payload on success, -1 for an
// invalid argument or failed lookup, and -2 from waitpid when a matching
// child is still running. A user pointer that does not translate kills the
// caller with exit code -2.
package syscalls

import (
	"errors"
	"log/slog"

	"strideos/pkg/mm"
	"strideos/pkg/process"
)

// Result codes.
const (
	ResultError    int64 = -1
	ResultNotReady int64 = -2
)

// ExitCodeFault is the exit code of a task killed for a bad user pointer.
const ExitCodeFault int32 = -2

// ErrNoCurrentTask is logged when a syscall arrives while the processor is
// idle.
var ErrNoCurrentTask = errors.New("syscall with no current task")

// ImageSource looks up program images by name.
type ImageSource interface {
	Get(name string) ([]byte, bool)
}

// Dispatcher routes syscalls for the current task of a processor.
type Dispatcher struct {
	proc   *process.Processor
	images ImageSource
	log    *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil logger means the processor's.
func NewDispatcher(proc *process.Processor, images ImageSource, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = proc.Logger()
	}
	return &Dispatcher{proc: proc, images: images, log: logger}
}

// Syscall runs syscall id for the current task and returns the value for
// its a0 register. For exit, and for calls that kill the caller, the value
// is meaningless because the caller never resumes.
func (d *Dispatcher) Syscall(id uint64, args [4]uint64) int64 {
	cur := d.proc.Current()
	if cur == nil {
		d.log.Error("dropping syscall", "syscall", Name(id), "error", ErrNoCurrentTask)
		return ResultError
	}
	cur.RecordSyscall(id)
	d.log.Debug("syscall", "pid", cur.Pid(), "syscall", Name(id), "args", args)

	switch id {
	case SysExit:
		return d.sysExit(int32(args[0]))
	case SysYield:
		return d.sysYield()
	case SysGetpid:
		return int64(cur.Pid())
	case SysFork:
		return d.sysFork(cur)
	case SysExec:
		return d.sysExec(cur, args[0])
	case SysWaitpid:
		return d.sysWaitpid(cur, int64(args[0]), args[1])
	case SysGetTime:
		return d.sysGetTime(cur, args[0])
	case SysTaskInfo:
		return d.sysTaskInfo(cur, args[0])
	case SysMmap:
		return d.sysMmap(cur, args[0], args[1], args[2])
	case SysMunmap:
		return d.sysMunmap(cur, args[0], args[1])
	case SysSbrk:
		return d.sysSbrk(cur, int32(args[0]))
	case SysSpawn:
		return d.sysSpawn(cur, args[0])
	case SysSetPriority:
		return d.sysSetPriority(cur, int64(args[0]))
	}
	d.log.Warn("unsupported syscall", "pid", cur.Pid(), "syscall", id)
	return ResultError
}

// pageTable returns the caller's page table.
func pageTable(t *process.TaskControlBlock) *mm.PageTable {
	in, release := t.InnerExclusiveAccess()
	defer release()
	return in.MemorySet.PageTable()
}

// fault kills the caller after a user pointer failed to translate.
func (d *Dispatcher) fault(t *process.TaskControlBlock, id uint64, err error) int64 {
	d.log.Error("bad user pointer, killing task", "pid", t.Pid(), "syscall", Name(id), "error", err)
	if err := d.proc.ExitCurrentAndRunNext(ExitCodeFault); err != nil {
		d.log.Error("exit after fault", "pid", t.Pid(), "error", err)
	}
	return ResultError
}

// readPath reads a NUL-terminated path from user memory.
func (d *Dispatcher) readPath(t *process.TaskControlBlock, id, va uint64) (string, bool) {
	path, err := mm.TranslatedStr(pageTable(t), va)
	if err != nil {
		d.fault(t, id, err)
		return "", false
	}
	return path, true
}
