package process

// Register numbers in TrapContext.X.
const (
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA3 = 13
	RegA7 = 17
)

// sstatusSPIE enables interrupts after sret.
const sstatusSPIE = 1 << 5

// TrapContext is the user register file saved on entry to the kernel.
type TrapContext struct {
	X       [32]uint64
	Sstatus uint64
	Sepc    uint64
}

// AppInitContext returns the context a task starts user mode with.
func AppInitContext(entry, sp uint64) TrapContext {
	cx := TrapContext{Sstatus: sstatusSPIE, Sepc: entry}
	cx.X[RegSP] = sp
	return cx
}
