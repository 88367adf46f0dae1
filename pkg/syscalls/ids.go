package syscalls

import "fmt"

// Syscall numbers.
const (
	SysExit        = 93
	SysYield       = 124
	SysSetPriority = 140
	SysGetTime     = 169
	SysGetpid      = 172
	SysSbrk        = 214
	SysMunmap      = 215
	SysFork        = 220
	SysExec        = 221
	SysMmap        = 222
	SysWaitpid     = 260
	SysSpawn       = 400
	SysTaskInfo    = 410
)

var names = map[uint64]string{
	SysExit:        "exit",
	SysYield:       "yield",
	SysSetPriority: "set_priority",
	SysGetTime:     "get_time",
	SysGetpid:      "getpid",
	SysSbrk:        "sbrk",
	SysMunmap:      "munmap",
	SysFork:        "fork",
	SysExec:        "exec",
	SysMmap:        "mmap",
	SysWaitpid:     "waitpid",
	SysSpawn:       "spawn",
	SysTaskInfo:    "task_info",
}

// Name returns the name of syscall id.
func Name(id uint64) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("syscall_%d", id)
}
