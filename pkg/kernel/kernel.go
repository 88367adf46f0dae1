// Package kernel wires the core together: it boots the init process from a
// configuration, takes syscall traps from the current task and records the
// schedule as tasks are switched in.
package kernel

import (
	"errors"
	"fmt"
	"log/slog"

	"strideos/pkg/config"
	"strideos/pkg/loader"
	"strideos/pkg/mm"
	"strideos/pkg/process"
	"strideos/pkg/syscalls"
	"strideos/pkg/timer"
)

// Kernel errors.
var (
	ErrIdle       = errors.New("kernel: no current task")
	ErrTaskExited = errors.New("kernel: calling task did not resume")
)

// Options configures New.
type Options struct {
	// Config defaults to config.Default().
	Config *config.Config
	// Images defaults to an empty registry. Config.AppDir is loaded into it.
	Images *loader.Registry
	// Clock defaults to a monotonic clock.
	Clock timer.Clock
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Switch is one entry of the schedule trace.
type Switch struct {
	Pid      int
	Name     string
	AtMillis uint64
}

// Kernel is a booted kernel instance.
type Kernel struct {
	cfg    *config.Config
	images *loader.Registry
	proc   *process.Processor
	disp   *syscalls.Dispatcher
	log    *slog.Logger
	trace  []Switch
}

// New boots a kernel: it loads the image directory, creates physical memory
// and the processor, and enqueues the init process. Nothing runs until Start.
func New(opts Options) (*Kernel, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	images := opts.Images
	if images == nil {
		images = loader.NewRegistry()
	}
	if cfg.AppDir != "" {
		n, err := images.LoadDir(cfg.AppDir)
		if err != nil {
			return nil, fmt.Errorf("load apps: %w", err)
		}
		logger.Info("loaded app images", "dir", cfg.AppDir, "count", n)
	}

	k := &Kernel{cfg: cfg, images: images, log: logger}
	k.proc = process.NewProcessor(process.Config{
		Memory:          mm.NewMemory(cfg.Frames),
		Clock:           opts.Clock,
		Logger:          logger,
		BigStride:       cfg.BigStride,
		DefaultPriority: cfg.DefaultPriority,
	})
	k.proc.OnSwitch(k.record)
	k.disp = syscalls.NewDispatcher(k.proc, images, logger)

	data, err := images.Lookup(cfg.InitProc)
	if err != nil {
		return nil, err
	}
	if _, err := k.proc.Boot(cfg.InitProc, data); err != nil {
		return nil, err
	}
	logger.Info("kernel booted", "frames", cfg.Frames, "big_stride", cfg.BigStride, "init", cfg.InitProc)
	return k, nil
}

func (k *Kernel) record(t *process.TaskControlBlock, at uint64) {
	k.trace = append(k.trace, Switch{Pid: t.Pid(), Name: t.Name(), AtMillis: at})
}

// Start schedules the first task. It returns false if nothing is ready.
func (k *Kernel) Start() bool {
	return k.proc.Schedule()
}

// Processor returns the processor.
func (k *Kernel) Processor() *process.Processor { return k.proc }

// Images returns the image registry.
func (k *Kernel) Images() *loader.Registry { return k.images }

// Current returns the running task, or nil.
func (k *Kernel) Current() *process.TaskControlBlock { return k.proc.Current() }

// Halted reports whether the init process has exited, and its exit code.
func (k *Kernel) Halted() (bool, int32) { return k.proc.Halted() }

// Trace returns the tasks switched in so far, oldest first.
func (k *Kernel) Trace() []Switch {
	return append([]Switch(nil), k.trace...)
}

// HandleSyscallTrap services the ecall of the current task: it reads the
// syscall number from a7 and the arguments from a0-a3, steps sepc past the
// ecall and stores the result in a0 if the caller is still alive afterwards.
// It returns the result and the task that trapped.
func (k *Kernel) HandleSyscallTrap() (int64, *process.TaskControlBlock, error) {
	caller := k.proc.Current()
	if caller == nil {
		return 0, nil, ErrIdle
	}
	var id uint64
	var args [4]uint64
	caller.WithInner(func(in *process.TaskInner) {
		in.TrapCx.Sepc += 4
		id = in.TrapCx.X[process.RegA7]
		copy(args[:], in.TrapCx.X[process.RegA0:process.RegA3+1])
	})

	ret := k.disp.Syscall(id, args)

	caller.WithInner(func(in *process.TaskInner) {
		if !in.IsZombie() {
			in.TrapCx.X[process.RegA0] = uint64(ret)
		}
	})
	return ret, caller, nil
}

// Ecall loads a syscall into the current task's registers and traps. It
// returns ErrTaskExited when the caller will not resume, as after exit or a
// fault.
func (k *Kernel) Ecall(id uint64, args ...uint64) (int64, error) {
	cur := k.proc.Current()
	if cur == nil {
		return 0, ErrIdle
	}
	if len(args) > 4 {
		return 0, fmt.Errorf("ecall %s: %d arguments", syscalls.Name(id), len(args))
	}
	cur.WithInner(func(in *process.TaskInner) {
		in.TrapCx.X[process.RegA7] = id
		for i := range 4 {
			in.TrapCx.X[process.RegA0+i] = 0
		}
		copy(in.TrapCx.X[process.RegA0:], args)
	})
	ret, caller, err := k.HandleSyscallTrap()
	if err != nil {
		return 0, err
	}
	if caller.Status() == process.StatusZombie {
		return ret, ErrTaskExited
	}
	return ret, nil
}

// Preempt is the timer interrupt: the current task goes back to the ready
// collection and the next one is scheduled.
func (k *Kernel) Preempt() error {
	if err := k.proc.SuspendCurrentAndRunNext(); err != nil {
		return ErrIdle
	}
	return nil
}

// CopyToUser writes data into the current task's memory at va.
func (k *Kernel) CopyToUser(va uint64, data []byte) error {
	cur := k.proc.Current()
	if cur == nil {
		return ErrIdle
	}
	var pt *mm.PageTable
	cur.WithInner(func(in *process.TaskInner) { pt = in.MemorySet.PageTable() })
	return mm.WriteUser(pt, va, data)
}

// CopyFromUser reads len(buf) bytes of the current task's memory at va.
func (k *Kernel) CopyFromUser(va uint64, buf []byte) error {
	cur := k.proc.Current()
	if cur == nil {
		return ErrIdle
	}
	var pt *mm.PageTable
	cur.WithInner(func(in *process.TaskInner) { pt = in.MemorySet.PageTable() })
	return mm.ReadUser(pt, va, buf)
}

// StageString writes s and a NUL terminator just below the current task's
// stack pointer and returns its address, for syscalls taking a path.
func (k *Kernel) StageString(s string) (uint64, error) {
	cur := k.proc.Current()
	if cur == nil {
		return 0, ErrIdle
	}
	var sp uint64
	cur.WithInner(func(in *process.TaskInner) { sp = in.TrapCx.X[process.RegSP] })
	va := (sp - uint64(len(s)) - 1) &^ 7
	if err := k.CopyToUser(va, append([]byte(s), 0)); err != nil {
		return 0, err
	}
	return va, nil
}
