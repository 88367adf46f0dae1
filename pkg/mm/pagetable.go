package mm

import (
	"encoding/binary"
	"fmt"
)

// satpModeSV39 is the MODE field of satp for SV39 translation.
const satpModeSV39 = 8

// PageTable is an SV39 page table rooted in a frame of Memory.
type PageTable struct {
	mem  *Memory
	root PhysPageNum
	// frames holds every page-table frame owned by this table, root first.
	// Views built by FromToken own nothing.
	frames []PhysPageNum
}

// NewPageTable allocates an empty root table.
func NewPageTable(mem *Memory) (*PageTable, error) {
	root, err := mem.Alloc()
	if err != nil {
		return nil, err
	}
	return &PageTable{mem: mem, root: root, frames: []PhysPageNum{root}}, nil
}

// FromToken returns a read/write view of the table identified by a satp
// token. The view does not own any frames; Release on it does nothing.
func FromToken(mem *Memory, token uint64) *PageTable {
	return &PageTable{mem: mem, root: PhysPageNum(token & (1<<PPNBits - 1))}
}

// Token returns the satp value selecting this table.
func (pt *PageTable) Token() uint64 {
	return satpModeSV39<<60 | uint64(pt.root)
}

// Memory returns the physical memory the table lives in.
func (pt *PageTable) Memory() *Memory {
	return pt.mem
}

func (pt *PageTable) entry(table PhysPageNum, idx uint64) PageTableEntry {
	return PageTableEntry(binary.LittleEndian.Uint64(pt.mem.Frame(table)[idx*8:]))
}

func (pt *PageTable) setEntry(table PhysPageNum, idx uint64, e PageTableEntry) {
	binary.LittleEndian.PutUint64(pt.mem.Frame(table)[idx*8:], uint64(e))
}

// walk returns the frame and slot of the leaf entry for vpn. With create set
// the intermediate tables are allocated on the way down; otherwise ok is
// false as soon as a level is missing.
func (pt *PageTable) walk(vpn VirtPageNum, create bool) (table PhysPageNum, idx uint64, ok bool, err error) {
	idxs := vpn.Indexes()
	table = pt.root
	for level := 0; level < 2; level++ {
		e := pt.entry(table, idxs[level])
		if e.IsValid() {
			if e.isLeaf() {
				// huge pages are never created by this kernel
				panic(fmt.Sprintf("mm: unexpected leaf at level %d for vpn=%#x", level, uint64(vpn)))
			}
			table = e.PPN()
			continue
		}
		if !create {
			return 0, 0, false, nil
		}
		next, err := pt.mem.Alloc()
		if err != nil {
			return 0, 0, false, err
		}
		pt.frames = append(pt.frames, next)
		pt.setEntry(table, idxs[level], NewPTE(next, PTEValid))
		table = next
	}
	return table, idxs[2], true, nil
}

// Map installs a leaf entry. Mapping a vpn that is already valid panics.
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags PTEFlags) error {
	table, idx, _, err := pt.walk(vpn, true)
	if err != nil {
		return err
	}
	if pt.entry(table, idx).IsValid() {
		panic(fmt.Sprintf("mm: vpn=%#x is mapped before mapping", uint64(vpn)))
	}
	pt.setEntry(table, idx, NewPTE(ppn, flags|PTEValid))
	return nil
}

// Unmap clears a leaf entry. Unmapping an invalid vpn panics.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	table, idx, ok, _ := pt.walk(vpn, false)
	if !ok || !pt.entry(table, idx).IsValid() {
		panic(fmt.Sprintf("mm: vpn=%#x is invalid before unmapping", uint64(vpn)))
	}
	pt.setEntry(table, idx, 0)
}

// Translate returns the valid leaf entry for vpn.
func (pt *PageTable) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	table, idx, ok, _ := pt.walk(vpn, false)
	if !ok {
		return 0, false
	}
	e := pt.entry(table, idx)
	if !e.IsValid() {
		return 0, false
	}
	return e, true
}

// TranslateVA returns the physical address backing va.
func (pt *PageTable) TranslateVA(va VirtAddr) (PhysAddr, bool) {
	e, ok := pt.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	return PhysAddr(uint64(e.PPN().Addr()) + va.PageOffset()), true
}

// Release frees every page-table frame owned by the table. Leaf frames are
// owned by map areas and are not touched.
func (pt *PageTable) Release() {
	for _, f := range pt.frames {
		pt.mem.Dealloc(f)
	}
	pt.frames = nil
}
