/*
Package mm implements user address spaces for the kernel: a simulated
physical frame arena, an SV39 three-level page table stored in those frames,
the map areas that own user pages, and the MemorySet that ties them together.

# Layout

Physical memory is a contiguous run of 4 KiB frames starting at a base PPN.
Page-table pages and user data pages are both allocated from it, so a frame
leak or double free is visible through Memory.Free.

Virtual addresses are 39 bits wide. A VPN is split into three 9-bit indices,
top level first, and each page-table entry is a little-endian uint64:

	63      54 53                  10 9 8 7 6 5 4 3 2 1 0
	| unused  |         PPN          |rsw|D|A|G|U|X|W|R|V|

# Areas

A MapArea is a half-open VPN range with uniform permissions. Areas in a
MemorySet never overlap and every page inside an area is mapped. Mmap and
Munmap validate the whole range before touching anything, so a failed call
leaves the address space unchanged.
*/
package mm
