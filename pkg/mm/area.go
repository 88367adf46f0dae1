package mm

import (
	"debug/elf"
	"fmt"
	"strings"
)

// MapPermission is the subset of PTE flags an area can carry.
type MapPermission uint8

const (
	PermRead  = MapPermission(PTERead)
	PermWrite = MapPermission(PTEWrite)
	PermExec  = MapPermission(PTEExec)
	PermUser  = MapPermission(PTEUser)
)

func (p MapPermission) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit MapPermission
		c   byte
	}{{PermRead, 'R'}, {PermWrite, 'W'}, {PermExec, 'X'}, {PermUser, 'U'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

// PermFromProgFlags converts ELF segment flags to a user permission.
func PermFromProgFlags(f elf.ProgFlag) MapPermission {
	perm := PermUser
	if f&elf.PF_R != 0 {
		perm |= PermRead
	}
	if f&elf.PF_W != 0 {
		perm |= PermWrite
	}
	if f&elf.PF_X != 0 {
		perm |= PermExec
	}
	return perm
}

// MapArea is a run of framed user pages with one permission.
type MapArea struct {
	start  VirtPageNum
	end    VirtPageNum
	perm   MapPermission
	frames map[VirtPageNum]PhysPageNum
}

func newMapArea(start, end VirtPageNum, perm MapPermission) *MapArea {
	return &MapArea{
		start:  start,
		end:    end,
		perm:   perm,
		frames: make(map[VirtPageNum]PhysPageNum),
	}
}

// Start returns the first page of the area.
func (a *MapArea) Start() VirtPageNum { return a.start }

// End returns the page after the last page of the area.
func (a *MapArea) End() VirtPageNum { return a.end }

// Perm returns the area permission.
func (a *MapArea) Perm() MapPermission { return a.perm }

// Pages returns the number of pages in the area.
func (a *MapArea) Pages() int { return int(a.end - a.start) }

func (a *MapArea) String() string {
	return fmt.Sprintf("[%#x, %#x) %s", uint64(a.start.Addr()), uint64(a.end.Addr()), a.perm)
}

func (a *MapArea) mapOne(pt *PageTable, vpn VirtPageNum) error {
	ppn, err := pt.mem.Alloc()
	if err != nil {
		return err
	}
	if err := pt.Map(vpn, ppn, PTEFlags(a.perm)); err != nil {
		pt.mem.Dealloc(ppn)
		return err
	}
	a.frames[vpn] = ppn
	return nil
}

func (a *MapArea) unmapOne(pt *PageTable, vpn VirtPageNum) {
	ppn, ok := a.frames[vpn]
	if !ok {
		return
	}
	pt.Unmap(vpn)
	pt.mem.Dealloc(ppn)
	delete(a.frames, vpn)
}

// mapRange maps [from, to). On failure the pages mapped by this call are
// unmapped again.
func (a *MapArea) mapRange(pt *PageTable, from, to VirtPageNum) error {
	for vpn := from; vpn < to; vpn++ {
		if err := a.mapOne(pt, vpn); err != nil {
			a.unmapRange(pt, from, vpn)
			return err
		}
	}
	return nil
}

func (a *MapArea) unmapRange(pt *PageTable, from, to VirtPageNum) {
	for vpn := from; vpn < to; vpn++ {
		a.unmapOne(pt, vpn)
	}
}

// copyData writes data into the area starting offset bytes into its first
// page. The area must be mapped.
func (a *MapArea) copyData(pt *PageTable, offset uint64, data []byte) {
	vpn := a.start
	for len(data) > 0 {
		frame := pt.mem.Frame(a.frames[vpn])
		n := copy(frame[offset:], data)
		data = data[n:]
		offset = 0
		vpn++
	}
}

// slice moves the frames of [from, to) into a new area with the same
// permission.
func (a *MapArea) slice(from, to VirtPageNum) *MapArea {
	b := newMapArea(from, to, a.perm)
	for vpn := from; vpn < to; vpn++ {
		if ppn, ok := a.frames[vpn]; ok {
			b.frames[vpn] = ppn
			delete(a.frames, vpn)
		}
	}
	return b
}

func (a *MapArea) shrinkTo(pt *PageTable, newEnd VirtPageNum) {
	a.unmapRange(pt, newEnd, a.end)
	a.end = newEnd
}

func (a *MapArea) appendTo(pt *PageTable, newEnd VirtPageNum) error {
	if err := a.mapRange(pt, a.end, newEnd); err != nil {
		return err
	}
	a.end = newEnd
	return nil
}
