package mm

const (
	// PageSizeBits is log2 of the page size.
	PageSizeBits = 12
	// PageSize is the size of a page and of a physical frame in bytes.
	PageSize = 1 << PageSizeBits

	// VABits is the width of an SV39 virtual address.
	VABits = 39
	// PPNBits is the width of a physical page number in a PTE.
	PPNBits = 44
	// MaxVA is one past the highest user-addressable virtual address.
	MaxVA = 1 << VABits

	// UserStackSize is the size of the user stack mapped for every image.
	UserStackSize = 2 * PageSize
)

// VirtAddr is a user virtual address.
type VirtAddr uint64

// PhysAddr is an address in the simulated physical memory.
type PhysAddr uint64

// VirtPageNum is a virtual address divided by the page size.
type VirtPageNum uint64

// PhysPageNum is a physical address divided by the page size.
type PhysPageNum uint64

// Floor returns the page containing va.
func (va VirtAddr) Floor() VirtPageNum {
	return VirtPageNum(va / PageSize)
}

// Ceil returns the first page boundary at or above va.
func (va VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((uint64(va) + PageSize - 1) / PageSize)
}

// PageOffset returns the offset of va inside its page.
func (va VirtAddr) PageOffset() uint64 {
	return uint64(va) & (PageSize - 1)
}

// Aligned reports whether va is on a page boundary.
func (va VirtAddr) Aligned() bool {
	return va.PageOffset() == 0
}

// Addr returns the first address of the page.
func (vpn VirtPageNum) Addr() VirtAddr {
	return VirtAddr(uint64(vpn) << PageSizeBits)
}

// Indexes splits vpn into its three page-table indices, root level first.
func (vpn VirtPageNum) Indexes() [3]uint64 {
	v := uint64(vpn)
	var idx [3]uint64
	for i := 2; i >= 0; i-- {
		idx[i] = v & 511
		v >>= 9
	}
	return idx
}

// Addr returns the first address of the frame.
func (ppn PhysPageNum) Addr() PhysAddr {
	return PhysAddr(uint64(ppn) << PageSizeBits)
}

// Floor returns the frame containing pa.
func (pa PhysAddr) Floor() PhysPageNum {
	return PhysPageNum(pa / PageSize)
}

// PageOffset returns the offset of pa inside its frame.
func (pa PhysAddr) PageOffset() uint64 {
	return uint64(pa) & (PageSize - 1)
}
