/*
Package process implements task management for the kernel: the task
control block, the stride scheduler that orders runnable tasks, and the
processor that tracks the running task and hands the CPU over.

This package models a single hardware thread. At most one task runs at a
time, and control only changes hands at explicit points: yield, exit and the
return from fork.

# Task States

Tasks move through three states:

  - Ready: runnable, waiting in the TaskManager
  - Running: the current task of the Processor
  - Zombie: exited; kept until the parent collects its exit code

The valid transitions are Ready -> Running (scheduled), Running -> Ready
(yield or preemption) and Running -> Zombie (exit).

# Stride Scheduling

Every task carries a priority p >= 2, a pass of BigStride/p and an
accumulated stride. TaskManager.Fetch picks the ready task with the smallest
stride, breaking ties in favour of the higher priority, and adds its pass to
its stride. Over time each task runs in proportion to its priority.

Strides are plain uint64 values and wrap around on overflow.

# Usage

	proc := process.NewProcessor(process.Config{Memory: mem, Clock: clock})
	if _, err := proc.Boot("initproc", image); err != nil {
		// Handle error
	}
	proc.Schedule()

	child, err := proc.Fork(proc.Current())
	if err != nil {
		// Handle error
	}
	proc.Manager().Add(child)

# Exclusive Access

Task state is held in an upsafe.Cell. Every read or write of a task's
mutable fields goes through InnerExclusiveAccess or WithInner, and the borrow
is released by defer on every path. Borrowing the same task twice panics.
*/
package process
