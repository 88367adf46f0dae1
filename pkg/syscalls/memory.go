package syscalls

import (
	"strideos/pkg/process"
)

func (d *Dispatcher) sysMmap(cur *process.TaskControlBlock, start, length, port uint64) int64 {
	var err error
	cur.WithInner(func(in *process.TaskInner) {
		err = in.MemorySet.Mmap(start, length, port)
	})
	if err != nil {
		d.log.Debug("mmap rejected", "pid", cur.Pid(), "start", start, "len", length, "port", port, "error", err)
		return ResultError
	}
	return 0
}

func (d *Dispatcher) sysMunmap(cur *process.TaskControlBlock, start, length uint64) int64 {
	var err error
	cur.WithInner(func(in *process.TaskInner) {
		err = in.MemorySet.Munmap(start, length)
	})
	if err != nil {
		d.log.Debug("munmap rejected", "pid", cur.Pid(), "start", start, "len", length, "error", err)
		return ResultError
	}
	return 0
}

func (d *Dispatcher) sysSbrk(cur *process.TaskControlBlock, delta int32) int64 {
	old, err := cur.ChangeProgramBrk(delta)
	if err != nil {
		d.log.Debug("sbrk rejected", "pid", cur.Pid(), "delta", delta, "error", err)
		return ResultError
	}
	return int64(old)
}
