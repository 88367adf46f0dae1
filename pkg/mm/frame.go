package mm

import (
	"errors"
	"fmt"
)

// DefaultBasePPN is where the frame arena starts, right above a typical
// kernel image at 0x80400000.
const DefaultBasePPN PhysPageNum = 0x80400

// ErrOutOfFrames is returned when the frame arena is exhausted.
var ErrOutOfFrames = errors.New("mm: out of physical frames")

// Memory is the simulated physical memory together with its frame allocator.
// Frames are handed out from a bump pointer first and from the recycled stack
// after they have been returned.
type Memory struct {
	base     PhysPageNum
	end      PhysPageNum
	current  PhysPageNum
	recycled []PhysPageNum
	data     []byte
}

// NewMemory creates an arena of the given number of frames at DefaultBasePPN.
func NewMemory(frames int) *Memory {
	return NewMemoryAt(DefaultBasePPN, frames)
}

// NewMemoryAt creates an arena of the given number of frames at base.
func NewMemoryAt(base PhysPageNum, frames int) *Memory {
	if frames <= 0 {
		panic("mm: memory needs at least one frame")
	}
	return &Memory{
		base:    base,
		end:     base + PhysPageNum(frames),
		current: base,
		data:    make([]byte, frames*PageSize),
	}
}

// Alloc returns a zeroed frame.
func (m *Memory) Alloc() (PhysPageNum, error) {
	var ppn PhysPageNum
	if n := len(m.recycled); n > 0 {
		ppn = m.recycled[n-1]
		m.recycled = m.recycled[:n-1]
	} else if m.current < m.end {
		ppn = m.current
		m.current++
	} else {
		return 0, ErrOutOfFrames
	}
	clear(m.Frame(ppn))
	return ppn, nil
}

// Dealloc returns a frame to the allocator. Freeing a frame twice or a frame
// that was never handed out is a kernel bug and panics.
func (m *Memory) Dealloc(ppn PhysPageNum) {
	if ppn < m.base || ppn >= m.current {
		panic(fmt.Sprintf("mm: frame ppn=%#x has not been allocated", uint64(ppn)))
	}
	for _, r := range m.recycled {
		if r == ppn {
			panic(fmt.Sprintf("mm: frame ppn=%#x freed twice", uint64(ppn)))
		}
	}
	m.recycled = append(m.recycled, ppn)
}

// Frame returns the bytes of a frame.
func (m *Memory) Frame(ppn PhysPageNum) []byte {
	if ppn < m.base || ppn >= m.end {
		panic(fmt.Sprintf("mm: ppn=%#x outside physical memory", uint64(ppn)))
	}
	off := uint64(ppn-m.base) * PageSize
	return m.data[off : off+PageSize : off+PageSize]
}

// Free returns the number of frames that can still be allocated.
func (m *Memory) Free() int {
	return int(m.end-m.current) + len(m.recycled)
}

// Total returns the size of the arena in frames.
func (m *Memory) Total() int {
	return int(m.end - m.base)
}
