package mm

import "strings"

// PTEFlags are the low eight bits of a page-table entry.
type PTEFlags uint8

const (
	PTEValid PTEFlags = 1 << iota
	PTERead
	PTEWrite
	PTEExec
	PTEUser
	PTEGlobal
	PTEAccessed
	PTEDirty
)

func (f PTEFlags) String() string {
	var b strings.Builder
	for i, c := range "VRWXUGAD" {
		if f&(1<<i) != 0 {
			b.WriteRune(c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// PageTableEntry is one SV39 page-table entry.
type PageTableEntry uint64

// NewPTE encodes a frame number and flags.
func NewPTE(ppn PhysPageNum, flags PTEFlags) PageTableEntry {
	return PageTableEntry(uint64(ppn)<<10 | uint64(flags))
}

// PPN returns the frame the entry points to.
func (e PageTableEntry) PPN() PhysPageNum {
	return PhysPageNum(uint64(e) >> 10 & (1<<PPNBits - 1))
}

// Flags returns the flag bits of the entry.
func (e PageTableEntry) Flags() PTEFlags {
	return PTEFlags(e & 0xff)
}

func (e PageTableEntry) IsValid() bool    { return e.Flags()&PTEValid != 0 }
func (e PageTableEntry) Readable() bool   { return e.Flags()&PTERead != 0 }
func (e PageTableEntry) Writable() bool   { return e.Flags()&PTEWrite != 0 }
func (e PageTableEntry) Executable() bool { return e.Flags()&PTEExec != 0 }
func (e PageTableEntry) User() bool       { return e.Flags()&PTEUser != 0 }

// isLeaf reports whether a valid entry maps a page rather than pointing at
// the next level.
func (e PageTableEntry) isLeaf() bool {
	return e.Flags()&(PTERead|PTEWrite|PTEExec) != 0
}
