package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"strideos/pkg/chart"
	"strideos/pkg/kernel"
	"strideos/pkg/loader"
	"strideos/pkg/process"
	"strideos/pkg/syscalls"
)

const workerPrefix = "prio"

// demoImage is a tiny program: one text page and one data page.
func demoImage(tag string) []byte {
	text := bytes.Repeat([]byte{0x13, 0x00, 0x00, 0x00}, 8) // nop
	return loader.Build(0x10000,
		loader.Segment{Vaddr: 0x10000, Flags: elf.PF_R | elf.PF_X, Data: text},
		loader.Segment{Vaddr: 0x11000, MemSize: 0x1000, Flags: elf.PF_R | elf.PF_W, Data: []byte(tag)},
	)
}

// registerDemoImages adds initproc and one worker image per priority.
func registerDemoImages(reg *loader.Registry, initName string, prios []int64) error {
	if err := reg.Register(initName, demoImage(initName)); err != nil {
		return err
	}
	for _, p := range prios {
		name := workerPrefix + strconv.FormatInt(p, 10)
		if err := reg.Register(name, demoImage(name)); err != nil {
			return err
		}
	}
	return nil
}

// parsePriorities parses a comma separated priority list.
func parsePriorities(s string) ([]int64, error) {
	var out []int64
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		p, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("priority %q: %w", f, err)
		}
		if p < process.MinPriority {
			return nil, fmt.Errorf("priority %d: %w", p, process.ErrInvalidPriority)
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, errors.New("no priorities given")
	}
	return out, nil
}

// workerStat is what the demo learns about one worker.
type workerStat struct {
	Pid      int
	Name     string
	Priority int64
	Slices   int
	ExitCode int32
	Reaped   bool
}

// demo plays the user side of every task: initproc spawns the workers and
// reaps them, each worker sets its priority and yields until the slice
// budget is spent.
type demo struct {
	k        *kernel.Kernel
	log      *slog.Logger
	initName string
	prios    []int64
	rounds   int

	spawned bool
	slices  int
	workers map[int]*workerStat
	order   []int
}

func newDemo(k *kernel.Kernel, logger *slog.Logger, initName string, prios []int64, rounds int) *demo {
	return &demo{
		k:        k,
		log:      logger,
		initName: initName,
		prios:    prios,
		rounds:   rounds,
		workers:  map[int]*workerStat{},
	}
}

// run drives the kernel until it halts and returns the exit code of init.
func (d *demo) run() (int32, error) {
	if !d.k.Start() {
		return 0, kernel.ErrIdle
	}
	limit := 10*d.rounds + 100*len(d.prios) + 100
	for range limit {
		cur := d.k.Current()
		if cur == nil {
			break
		}
		if err := d.step(cur); err != nil {
			return 0, err
		}
	}
	halted, code := d.k.Halted()
	if !halted {
		return 0, fmt.Errorf("kernel still running after %d steps", limit)
	}
	return code, nil
}

func (d *demo) step(cur *process.TaskControlBlock) error {
	if cur.Name() == d.initName {
		return d.stepInit()
	}
	return d.stepWorker(cur)
}

func (d *demo) stepInit() error {
	if !d.spawned {
		d.spawned = true
		for _, p := range d.prios {
			name := workerPrefix + strconv.FormatInt(p, 10)
			path, err := d.k.StageString(name)
			if err != nil {
				return err
			}
			pid, err := d.k.Ecall(syscalls.SysSpawn, path)
			if err != nil || pid < 0 {
				return fmt.Errorf("spawn %s: %d, %v", name, pid, err)
			}
			d.workers[int(pid)] = &workerStat{Pid: int(pid), Name: name, Priority: p}
			d.order = append(d.order, int(pid))
		}
		_, err := d.k.Ecall(syscalls.SysYield)
		return err
	}

	codeVA, err := d.k.StageString("code")
	if err != nil {
		return err
	}
	pid, err := d.k.Ecall(syscalls.SysWaitpid, ^uint64(0), codeVA)
	if err != nil {
		return err
	}
	switch {
	case pid == syscalls.ResultError:
		_, err := d.k.Ecall(syscalls.SysExit, 0)
		if errors.Is(err, kernel.ErrTaskExited) {
			return nil
		}
		return err
	case pid == syscalls.ResultNotReady:
		_, err := d.k.Ecall(syscalls.SysYield)
		return err
	}
	buf := make([]byte, 4)
	if err := d.k.CopyFromUser(codeVA, buf); err != nil {
		return err
	}
	if w, ok := d.workers[int(pid)]; ok {
		w.ExitCode = int32(binary.LittleEndian.Uint32(buf))
		w.Reaped = true
	}
	d.log.Debug("worker reaped", "pid", pid)
	return nil
}

func (d *demo) stepWorker(cur *process.TaskControlBlock) error {
	w, ok := d.workers[cur.Pid()]
	if !ok {
		return fmt.Errorf("unknown task pid %d", cur.Pid())
	}
	if w.Slices == 0 {
		if got, err := d.k.Ecall(syscalls.SysSetPriority, uint64(w.Priority)); err != nil || got != w.Priority {
			return fmt.Errorf("set_priority(%d) = %d, %v", w.Priority, got, err)
		}
	}
	if d.slices >= d.rounds {
		_, err := d.k.Ecall(syscalls.SysExit, uint64(w.Slices))
		if errors.Is(err, kernel.ErrTaskExited) {
			return nil
		}
		return err
	}
	w.Slices++
	d.slices++
	_, err := d.k.Ecall(syscalls.SysYield)
	return err
}

// stats returns the workers in spawn order.
func (d *demo) stats() []workerStat {
	out := make([]workerStat, 0, len(d.order))
	for _, pid := range d.order {
		out = append(out, *d.workers[pid])
	}
	return out
}

// slots converts the kernel's switch trace for the chart.
func slots(trace []kernel.Switch) []chart.Slot {
	out := make([]chart.Slot, len(trace))
	for i, s := range trace {
		out[i] = chart.Slot{Pid: s.Pid, Name: s.Name}
	}
	return out
}
