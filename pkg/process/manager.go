package process

import (
	"errors"
	"fmt"
	"log/slog"

	"strideos/pkg/mm"
	"strideos/pkg/timer"
	"strideos/pkg/upsafe"
)

// Processor errors.
var (
	ErrAlreadyBooted = errors.New("processor already booted")
	ErrNoCurrent     = errors.New("no current task")
)

// Config contains the collaborators of a Processor.
type Config struct {
	// Memory backs every address space. Required.
	Memory *mm.Memory
	// Clock supplies time since boot. Defaults to a monotonic clock.
	Clock timer.Clock
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// BigStride defaults to DefaultBigStride.
	BigStride uint64
	// DefaultPriority defaults to DefaultPriority.
	DefaultPriority uint64
	// Scheduler defaults to a stride TaskManager.
	Scheduler Scheduler
}

// SwitchFunc is called each time a task becomes current. at is the time of
// the switch in ms since boot.
type SwitchFunc func(t *TaskControlBlock, at uint64)

type cpuState struct {
	current  *TaskControlBlock
	halted   bool
	exitCode int32
}

// Processor is the single simulated hart. It owns the current task, the
// ready collection and the init process.
type Processor struct {
	mem      *mm.Memory
	clock    timer.Clock
	log      *slog.Logger
	sched    Scheduler
	params   SchedParams
	pids     PidAllocator
	initProc *TaskControlBlock
	state    *upsafe.Cell[cpuState]
	onSwitch SwitchFunc
}

// NewProcessor creates a processor with no tasks.
func NewProcessor(cfg Config) *Processor {
	if cfg.Memory == nil {
		panic("process: Config.Memory is required")
	}
	p := &Processor{
		mem:    cfg.Memory,
		clock:  cfg.Clock,
		log:    cfg.Logger,
		sched:  cfg.Scheduler,
		params: DefaultSchedParams(),
		state:  upsafe.New(cpuState{}),
	}
	if p.clock == nil {
		p.clock = timer.NewMonotonic()
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.sched == nil {
		p.sched = NewTaskManager()
	}
	if cfg.BigStride != 0 {
		p.params.BigStride = cfg.BigStride
	}
	if cfg.DefaultPriority != 0 {
		p.params.Priority = cfg.DefaultPriority
	}
	return p
}

// OnSwitch registers fn to be called on every task switch.
func (p *Processor) OnSwitch(fn SwitchFunc) {
	p.onSwitch = fn
}

// Memory returns the physical memory shared by all tasks.
func (p *Processor) Memory() *mm.Memory { return p.mem }

// Clock returns the processor clock.
func (p *Processor) Clock() timer.Clock { return p.clock }

// Logger returns the processor logger.
func (p *Processor) Logger() *slog.Logger { return p.log }

// Manager returns the ready collection.
func (p *Processor) Manager() Scheduler { return p.sched }

// SchedParams returns the defaults given to new tasks.
func (p *Processor) SchedParams() SchedParams { return p.params }

// InitProc returns the init process, or nil before Boot.
func (p *Processor) InitProc() *TaskControlBlock { return p.initProc }

// Boot creates the init process from image and enqueues it.
func (p *Processor) Boot(name string, image []byte) (*TaskControlBlock, error) {
	if p.initProc != nil {
		return nil, ErrAlreadyBooted
	}
	t, err := p.NewTask(name, image)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	p.initProc = t
	p.sched.Add(t)
	p.log.Info("init process created", "pid", t.Pid(), "name", name)
	return t, nil
}

// NewTask builds a task from image with the processor's defaults. The task
// is not enqueued and has no parent.
func (p *Processor) NewTask(name string, image []byte) (*TaskControlBlock, error) {
	return NewTask(p.mem, &p.pids, name, image, p.params)
}

// Fork duplicates parent. The child is linked under parent but not enqueued.
func (p *Processor) Fork(parent *TaskControlBlock) (*TaskControlBlock, error) {
	return parent.Fork(&p.pids, p.params)
}

// Current returns the running task, or nil when idle.
func (p *Processor) Current() *TaskControlBlock {
	s, release := p.state.Exclusive()
	defer release()
	return s.current
}

// Halted reports whether the init process has exited, and its exit code.
func (p *Processor) Halted() (bool, int32) {
	s, release := p.state.Exclusive()
	defer release()
	return s.halted, s.exitCode
}

// Schedule makes the next ready task current. It returns false when the
// ready collection is empty or the processor has halted.
func (p *Processor) Schedule() bool {
	s, release := p.state.Exclusive()
	if s.halted {
		release()
		return false
	}
	release()

	t, ok := p.sched.Fetch()
	if !ok {
		p.setCurrent(nil)
		return false
	}
	now := timer.Millis(p.clock)
	t.WithInner(func(in *TaskInner) {
		in.mustTransition(StatusRunning)
		if !in.Started {
			in.Started = true
			in.StartTime = now
		}
	})
	p.setCurrent(t)
	p.log.Debug("switch", "pid", t.Pid(), "at_ms", now)
	if p.onSwitch != nil {
		p.onSwitch(t, now)
	}
	return true
}

func (p *Processor) setCurrent(t *TaskControlBlock) {
	p.state.With(func(s *cpuState) {
		s.current = t
	})
}

func (p *Processor) takeCurrent() (*TaskControlBlock, error) {
	s, release := p.state.Exclusive()
	defer release()
	t := s.current
	if t == nil {
		return nil, ErrNoCurrent
	}
	s.current = nil
	return t, nil
}

// SuspendCurrentAndRunNext puts the current task back in the ready
// collection and schedules the next one.
func (p *Processor) SuspendCurrentAndRunNext() error {
	t, err := p.takeCurrent()
	if err != nil {
		return err
	}
	t.WithInner(func(in *TaskInner) {
		in.mustTransition(StatusReady)
	})
	p.sched.Add(t)
	p.Schedule()
	return nil
}

// ExitCurrentAndRunNext turns the current task into a zombie with code.
// Its children are handed to the init process and its data pages are freed;
// the page table stays until the parent reaps it. When the init process
// exits the processor halts with code.
func (p *Processor) ExitCurrentAndRunNext(code int32) error {
	t, err := p.takeCurrent()
	if err != nil {
		return err
	}

	var orphans []*TaskControlBlock
	t.WithInner(func(in *TaskInner) {
		in.mustTransition(StatusZombie)
		in.ExitCode = code
		orphans = in.Children
		in.Children = nil
		in.MemorySet.RecycleDataPages()
	})
	p.log.Debug("task exited", "pid", t.Pid(), "code", code)

	if t == p.initProc {
		p.state.With(func(s *cpuState) {
			s.halted = true
			s.exitCode = code
		})
		p.log.Info("init process exited, halting", "code", code)
		return nil
	}
	if p.initProc != nil {
		for _, c := range orphans {
			p.initProc.Adopt(c)
		}
	}
	p.Schedule()
	return nil
}
