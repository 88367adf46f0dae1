package syscalls

import (
	"strideos/pkg/mm"
	"strideos/pkg/process"
	"strideos/pkg/timer"
)

func (d *Dispatcher) sysExit(code int32) int64 {
	if err := d.proc.ExitCurrentAndRunNext(code); err != nil {
		d.log.Error("exit", "error", err)
	}
	return 0
}

func (d *Dispatcher) sysYield() int64 {
	if err := d.proc.SuspendCurrentAndRunNext(); err != nil {
		d.log.Error("yield", "error", err)
	}
	return 0
}

func (d *Dispatcher) sysFork(cur *process.TaskControlBlock) int64 {
	child, err := d.proc.Fork(cur)
	if err != nil {
		d.log.Debug("fork failed", "pid", cur.Pid(), "error", err)
		return ResultError
	}
	// the child resumes from the same trap context and sees 0
	child.WithInner(func(in *process.TaskInner) {
		in.TrapCx.X[process.RegA0] = 0
	})
	d.proc.Manager().Add(child)
	return int64(child.Pid())
}

func (d *Dispatcher) sysExec(cur *process.TaskControlBlock, pathVA uint64) int64 {
	path, ok := d.readPath(cur, SysExec, pathVA)
	if !ok {
		return ResultError
	}
	data, found := d.images.Get(path)
	if !found {
		d.log.Debug("exec: no such image", "pid", cur.Pid(), "path", path)
		return ResultError
	}
	if err := cur.Exec(d.proc.Memory(), path, data); err != nil {
		d.log.Debug("exec failed", "pid", cur.Pid(), "path", path, "error", err)
		return ResultError
	}
	return 0
}

func (d *Dispatcher) sysSpawn(cur *process.TaskControlBlock, pathVA uint64) int64 {
	path, ok := d.readPath(cur, SysSpawn, pathVA)
	if !ok {
		return ResultError
	}
	data, found := d.images.Get(path)
	if !found {
		d.log.Debug("spawn: no such image", "pid", cur.Pid(), "path", path)
		return ResultError
	}
	child, err := d.proc.NewTask(path, data)
	if err != nil {
		d.log.Debug("spawn failed", "pid", cur.Pid(), "path", path, "error", err)
		return ResultError
	}
	cur.Adopt(child)
	d.proc.Manager().Add(child)
	return int64(child.Pid())
}

// reapResult is what waitpid decided under the caller's borrow.
type reapResult struct {
	ret   int64
	fault error
}

func (d *Dispatcher) sysWaitpid(cur *process.TaskControlBlock, pid int64, codeVA uint64) int64 {
	r := d.reap(cur, pid, codeVA)
	if r.fault != nil {
		return d.fault(cur, SysWaitpid, r.fault)
	}
	return r.ret
}

func (d *Dispatcher) reap(cur *process.TaskControlBlock, pid int64, codeVA uint64) reapResult {
	in, release := cur.InnerExclusiveAccess()
	defer release()

	matched := false
	idx := -1
	for i, c := range in.Children {
		if pid != -1 && int64(c.Pid()) != pid {
			continue
		}
		matched = true
		if c.Status() == process.StatusZombie {
			idx = i
			break
		}
	}
	if !matched {
		return reapResult{ret: ResultError}
	}
	if idx < 0 {
		return reapResult{ret: ResultNotReady}
	}

	child := in.Children[idx]
	var code int32
	child.WithInner(func(c *process.TaskInner) { code = c.ExitCode })
	if err := mm.WriteUser(in.MemorySet.PageTable(), codeVA, encodeInt32(code)); err != nil {
		return reapResult{fault: err}
	}
	in.Children = append(in.Children[:idx], in.Children[idx+1:]...)
	child.WithInner(func(c *process.TaskInner) { c.MemorySet.Release() })
	d.log.Debug("reaped", "pid", cur.Pid(), "child", child.Pid(), "code", code)
	return reapResult{ret: int64(child.Pid())}
}

func (d *Dispatcher) sysGetTime(cur *process.TaskControlBlock, tsVA uint64) int64 {
	tv := TimeValFromMicros(d.proc.Clock().NowMicros())
	if err := mm.WriteUser(pageTable(cur), tsVA, encode(tv)); err != nil {
		return d.fault(cur, SysGetTime, err)
	}
	return 0
}

func (d *Dispatcher) sysTaskInfo(cur *process.TaskControlBlock, tiVA uint64) int64 {
	now := timer.Millis(d.proc.Clock())
	var info TaskInfo
	var pt *mm.PageTable
	cur.WithInner(func(in *process.TaskInner) {
		info.Status = uint32(in.Status)
		info.SyscallTimes = in.SyscallTimes
		info.Time = now - in.StartTime
		pt = in.MemorySet.PageTable()
	})
	if err := mm.WriteUser(pt, tiVA, encode(&info)); err != nil {
		return d.fault(cur, SysTaskInfo, err)
	}
	return 0
}

func (d *Dispatcher) sysSetPriority(cur *process.TaskControlBlock, prio int64) int64 {
	if err := cur.SetPriority(prio); err != nil {
		d.log.Debug("set_priority rejected", "pid", cur.Pid(), "error", err)
		return ResultError
	}
	return prio
}
