package mm

import (
	"errors"
	"fmt"

	"strideos/pkg/loader"
)

// Address space errors.
var (
	ErrInvalidPort   = errors.New("mm: invalid mmap permission bits")
	ErrUnaligned     = errors.New("mm: address is not page aligned")
	ErrOutOfRange    = errors.New("mm: range outside the user address space")
	ErrAlreadyMapped = errors.New("mm: page already mapped")
	ErrNotMapped     = errors.New("mm: page not mapped")
	ErrNoArea        = errors.New("mm: no area starts at the given address")
)

// portMask covers the R/W/X bits of an mmap port argument.
const portMask = 0x7

// MemorySet is a user address space: a page table and the areas mapped in it.
type MemorySet struct {
	mem       *Memory
	pageTable *PageTable
	areas     []*MapArea
}

// NewBare creates an address space with an empty page table.
func NewBare(mem *Memory) (*MemorySet, error) {
	pt, err := NewPageTable(mem)
	if err != nil {
		return nil, err
	}
	return &MemorySet{mem: mem, pageTable: pt}, nil
}

// Token returns the satp token of the page table.
func (ms *MemorySet) Token() uint64 { return ms.pageTable.Token() }

// PageTable returns the page table of the address space.
func (ms *MemorySet) PageTable() *PageTable { return ms.pageTable }

// Areas returns the areas in insertion order. The slice is a copy; the areas
// are not.
func (ms *MemorySet) Areas() []*MapArea {
	return append([]*MapArea(nil), ms.areas...)
}

// Translate looks up the valid entry for vpn.
func (ms *MemorySet) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	return ms.pageTable.Translate(vpn)
}

// MappedPages returns the number of pages backed by frames.
func (ms *MemorySet) MappedPages() int {
	n := 0
	for _, a := range ms.areas {
		n += len(a.frames)
	}
	return n
}

func (ms *MemorySet) push(area *MapArea, offset uint64, data []byte) error {
	if err := area.mapRange(ms.pageTable, area.start, area.end); err != nil {
		return err
	}
	if len(data) > 0 {
		area.copyData(ms.pageTable, offset, data)
	}
	ms.areas = append(ms.areas, area)
	return nil
}

// InsertFramedArea maps [start, end) rounded out to pages. It does not check
// for overlap; callers scan the range first.
func (ms *MemorySet) InsertFramedArea(start, end VirtAddr, perm MapPermission) error {
	if start >= end {
		return fmt.Errorf("%w: empty area [%#x, %#x)", ErrOutOfRange, uint64(start), uint64(end))
	}
	return ms.push(newMapArea(start.Floor(), end.Ceil(), perm), 0, nil)
}

// ShrinkArea unmaps every page in [start, end) rounded out to pages. The range
// does not have to match an inserted area: areas that are fully covered are
// dropped, areas that are partially covered keep their remaining head and
// tail as separate areas.
func (ms *MemorySet) ShrinkArea(start, end VirtAddr) {
	from, to := start.Floor(), end.Ceil()
	kept := ms.areas[:0:0]
	for _, a := range ms.areas {
		lo, hi := max(a.start, from), min(a.end, to)
		if lo >= hi {
			kept = append(kept, a)
			continue
		}
		a.unmapRange(ms.pageTable, lo, hi)
		if a.start < lo {
			kept = append(kept, a.slice(a.start, lo))
		}
		if hi < a.end {
			kept = append(kept, a.slice(hi, a.end))
		}
	}
	ms.areas = kept
}

// RemoveAreaWithStartVPN unmaps and drops the area starting at vpn.
func (ms *MemorySet) RemoveAreaWithStartVPN(vpn VirtPageNum) bool {
	for i, a := range ms.areas {
		if a.start == vpn {
			a.unmapRange(ms.pageTable, a.start, a.end)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return true
		}
	}
	return false
}

// userRange validates [start, start+length) and returns its page bounds.
func userRange(start, length uint64) (VirtPageNum, VirtPageNum, error) {
	if !VirtAddr(start).Aligned() {
		return 0, 0, ErrUnaligned
	}
	end := start + length
	if end < start || end > MaxVA {
		return 0, 0, ErrOutOfRange
	}
	return VirtAddr(start).Floor(), VirtAddr(end).Ceil(), nil
}

// Mmap maps length bytes at start with the permission encoded in port
// (bit 0 read, bit 1 write, bit 2 exec; user access is implied). Nothing is
// changed unless every page in the range is currently unmapped.
func (ms *MemorySet) Mmap(start, length, port uint64) error {
	if port&^portMask != 0 || port&portMask == 0 {
		return ErrInvalidPort
	}
	from, to, err := userRange(start, length)
	if err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	for vpn := from; vpn < to; vpn++ {
		if _, ok := ms.pageTable.Translate(vpn); ok {
			return fmt.Errorf("%w: vpn=%#x", ErrAlreadyMapped, uint64(vpn))
		}
	}

	perm := PermUser
	if port&1 != 0 {
		perm |= PermRead
	}
	if port&2 != 0 {
		perm |= PermWrite
	}
	if port&4 != 0 {
		perm |= PermExec
	}
	return ms.push(newMapArea(from, to, perm), 0, nil)
}

// Munmap unmaps length bytes at start. Nothing is changed unless every page in
// the range is currently mapped.
func (ms *MemorySet) Munmap(start, length uint64) error {
	from, to, err := userRange(start, length)
	if err != nil {
		return err
	}
	for vpn := from; vpn < to; vpn++ {
		if _, ok := ms.pageTable.Translate(vpn); !ok {
			return fmt.Errorf("%w: vpn=%#x", ErrNotMapped, uint64(vpn))
		}
	}
	ms.ShrinkArea(from.Addr(), to.Addr())
	return nil
}

func (ms *MemorySet) areaStartingAt(vpn VirtPageNum) *MapArea {
	for _, a := range ms.areas {
		if a.start == vpn {
			return a
		}
	}
	return nil
}

// ShrinkTo moves the end of the area starting at start down to newEnd.
func (ms *MemorySet) ShrinkTo(start, newEnd VirtAddr) error {
	a := ms.areaStartingAt(start.Floor())
	if a == nil {
		return ErrNoArea
	}
	a.shrinkTo(ms.pageTable, min(max(newEnd.Ceil(), a.start), a.end))
	return nil
}

// AppendTo moves the end of the area starting at start up to newEnd. The new
// pages must not be mapped already.
func (ms *MemorySet) AppendTo(start, newEnd VirtAddr) error {
	a := ms.areaStartingAt(start.Floor())
	if a == nil {
		return ErrNoArea
	}
	to := newEnd.Ceil()
	if to > VirtAddr(MaxVA).Floor() {
		return ErrOutOfRange
	}
	for vpn := a.end; vpn < to; vpn++ {
		if _, ok := ms.pageTable.Translate(vpn); ok {
			return fmt.Errorf("%w: vpn=%#x", ErrAlreadyMapped, uint64(vpn))
		}
	}
	return a.appendTo(ms.pageTable, to)
}

// FromImage builds an address space from an ELF image: the loadable
// segments, a guard page, the user stack and an empty heap area right above
// the stack. It returns the user stack top and the entry point.
func FromImage(mem *Memory, data []byte) (*MemorySet, uint64, uint64, error) {
	img, err := loader.Parse(data)
	if err != nil {
		return nil, 0, 0, err
	}
	ms, err := NewBare(mem)
	if err != nil {
		return nil, 0, 0, err
	}
	userSP, err := ms.loadImage(img)
	if err != nil {
		ms.Release()
		return nil, 0, 0, err
	}
	return ms, userSP, img.Entry, nil
}

func (ms *MemorySet) loadImage(img *loader.Image) (uint64, error) {
	var maxEnd VirtPageNum
	for _, seg := range img.Segments {
		start := VirtAddr(seg.Vaddr)
		end := start + VirtAddr(seg.MemSize)
		if end < start || uint64(end) > MaxVA {
			return 0, fmt.Errorf("%w: segment at %#x", ErrOutOfRange, seg.Vaddr)
		}
		area := newMapArea(start.Floor(), end.Ceil(), PermFromProgFlags(seg.Flags))
		for _, other := range ms.areas {
			if area.start < other.end && other.start < area.end {
				return 0, fmt.Errorf("%w: overlapping segments at %#x", loader.ErrBadImage, seg.Vaddr)
			}
		}
		if err := ms.push(area, start.PageOffset(), seg.Data); err != nil {
			return 0, err
		}
		maxEnd = max(maxEnd, area.end)
	}

	stackBottom := maxEnd.Addr() + PageSize
	stackTop := stackBottom + UserStackSize
	if uint64(stackTop) > MaxVA {
		return 0, ErrOutOfRange
	}
	if err := ms.InsertFramedArea(stackBottom, stackTop, PermRead|PermWrite|PermUser); err != nil {
		return 0, err
	}
	// heap, grown by sbrk
	ms.areas = append(ms.areas, newMapArea(stackTop.Floor(), stackTop.Floor(), PermRead|PermWrite|PermUser))
	return uint64(stackTop), nil
}

// FromExistedUser copies an address space page by page.
func FromExistedUser(src *MemorySet) (*MemorySet, error) {
	ms, err := NewBare(src.mem)
	if err != nil {
		return nil, err
	}
	for _, a := range src.areas {
		b := newMapArea(a.start, a.end, a.perm)
		if err := ms.push(b, 0, nil); err != nil {
			ms.Release()
			return nil, err
		}
		for vpn, ppn := range a.frames {
			copy(ms.mem.Frame(b.frames[vpn]), src.mem.Frame(ppn))
		}
	}
	return ms, nil
}

// RecycleDataPages frees every user page and forgets the areas. The page
// table itself stays until Release.
func (ms *MemorySet) RecycleDataPages() {
	for _, a := range ms.areas {
		a.unmapRange(ms.pageTable, a.start, a.end)
	}
	ms.areas = nil
}

// Release frees every frame held by the address space, page-table frames
// included. The set must not be used afterwards.
func (ms *MemorySet) Release() {
	ms.RecycleDataPages()
	ms.pageTable.Release()
}
