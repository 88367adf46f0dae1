package mm

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"strings"
	"testing"

	"strideos/pkg/loader"
)

const mmapBase = 0x10000000

func newTestSet(t *testing.T) (*Memory, *MemorySet) {
	t.Helper()
	m := NewMemory(256)
	ms, err := NewBare(m)
	if err != nil {
		t.Fatalf("NewBare() error = %v", err)
	}
	return m, ms
}

// snapshot renders everything observable about an address space: its areas,
// every entry in the probed range and the frame count.
func snapshot(ms *MemorySet, from, to VirtPageNum) string {
	return fmt.Sprintf("%s free=%d", mappings(ms, from, to), ms.mem.Free())
}

// mappings is snapshot without the frame count. Intermediate page-table
// frames are kept once allocated, so a map/unmap round trip changes the
// count but not the mappings.
func mappings(ms *MemorySet, from, to VirtPageNum) string {
	var b strings.Builder
	for _, a := range ms.Areas() {
		fmt.Fprintf(&b, "%v;", a)
	}
	for vpn := from; vpn < to; vpn++ {
		if e, ok := ms.Translate(vpn); ok {
			fmt.Fprintf(&b, "%#x=%#x;", uint64(vpn), uint64(e))
		}
	}
	return b.String()
}

func probe() (VirtPageNum, VirtPageNum) {
	base := VirtAddr(mmapBase).Floor()
	return base - 4, base + 16
}

func TestMmapMunmapRoundTrip(t *testing.T) {
	for port := uint64(1); port <= 7; port++ {
		for pages := uint64(1); pages <= 3; pages++ {
			t.Run(fmt.Sprintf("port=%d/pages=%d", port, pages), func(t *testing.T) {
				m, ms := newTestSet(t)
				from, to := probe()
				before := mappings(ms, from, to)

				if err := ms.Mmap(mmapBase, pages*PageSize, port); err != nil {
					t.Fatalf("Mmap() error = %v", err)
				}
				mapped := m.Free()
				for vpn := VirtAddr(mmapBase).Floor(); vpn < VirtAddr(mmapBase).Floor()+VirtPageNum(pages); vpn++ {
					e, ok := ms.Translate(vpn)
					if !ok || !e.User() {
						t.Fatalf("page %#x not mapped for user", uint64(vpn))
					}
					if e.Readable() != (port&1 != 0) || e.Writable() != (port&2 != 0) || e.Executable() != (port&4 != 0) {
						t.Errorf("page %#x flags = %v for port %d", uint64(vpn), e.Flags(), port)
					}
				}

				if err := ms.Munmap(mmapBase, pages*PageSize); err != nil {
					t.Fatalf("Munmap() error = %v", err)
				}
				if after := mappings(ms, from, to); after != before {
					t.Errorf("address space after mmap+munmap:\n%s\nwant\n%s", after, before)
				}
				if got := m.Free() - mapped; got != int(pages) {
					t.Errorf("frames returned by munmap = %d, want %d", got, pages)
				}
			})
		}
	}
}

func TestMmapRejectsBadPort(t *testing.T) {
	for _, port := range []uint64{0, 8, 9, 0xf, 0x10, 1 << 40} {
		t.Run(fmt.Sprintf("port=%#x", port), func(t *testing.T) {
			_, ms := newTestSet(t)
			from, to := probe()
			before := snapshot(ms, from, to)

			if err := ms.Mmap(mmapBase, PageSize, port); !errors.Is(err, ErrInvalidPort) {
				t.Errorf("Mmap() error = %v, want ErrInvalidPort", err)
			}
			if err := ms.Mmap(mmapBase, 0, port); !errors.Is(err, ErrInvalidPort) {
				t.Errorf("Mmap(len=0) error = %v, want ErrInvalidPort", err)
			}
			if after := snapshot(ms, from, to); after != before {
				t.Errorf("address space changed by rejected mmap")
			}
		})
	}
}

func TestMmapArgumentErrors(t *testing.T) {
	tests := []struct {
		name          string
		start, length uint64
		want          error
	}{
		{"unaligned", mmapBase + 1, PageSize, ErrUnaligned},
		{"past user space", MaxVA - PageSize, 2 * PageSize, ErrOutOfRange},
		{"wraps", 1 << 63, 1 << 63, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ms := newTestSet(t)
			if err := ms.Mmap(tt.start, tt.length, 3); !errors.Is(err, tt.want) {
				t.Errorf("Mmap() error = %v, want %v", err, tt.want)
			}
			if len(ms.Areas()) != 0 {
				t.Errorf("areas = %v, want none", ms.Areas())
			}
		})
	}
}

func TestMmapZeroLength(t *testing.T) {
	m, ms := newTestSet(t)
	free := m.Free()
	if err := ms.Mmap(mmapBase, 0, 3); err != nil {
		t.Errorf("Mmap(len=0) error = %v", err)
	}
	if len(ms.Areas()) != 0 || m.Free() != free {
		t.Error("Mmap(len=0) changed the address space")
	}
}

func TestMmapRoundsLengthUp(t *testing.T) {
	_, ms := newTestSet(t)
	if err := ms.Mmap(mmapBase, PageSize+1, 1); err != nil {
		t.Fatalf("Mmap() error = %v", err)
	}
	if n := ms.MappedPages(); n != 2 {
		t.Errorf("MappedPages() = %d, want 2", n)
	}
}

func TestMmapOverlapLeavesStateUnchanged(t *testing.T) {
	_, ms := newTestSet(t)
	if err := ms.Mmap(mmapBase+2*PageSize, PageSize, 3); err != nil {
		t.Fatal(err)
	}
	from, to := probe()
	before := snapshot(ms, from, to)

	tests := []struct{ start, length uint64 }{
		{mmapBase + 2*PageSize, PageSize},
		{mmapBase, 3 * PageSize},
		{mmapBase + 2*PageSize, 4 * PageSize},
		{mmapBase, 8 * PageSize},
	}
	for _, tt := range tests {
		if err := ms.Mmap(tt.start, tt.length, 3); !errors.Is(err, ErrAlreadyMapped) {
			t.Errorf("Mmap(%#x, %#x) error = %v, want ErrAlreadyMapped", tt.start, tt.length, err)
		}
		if after := snapshot(ms, from, to); after != before {
			t.Errorf("Mmap(%#x, %#x) changed the address space", tt.start, tt.length)
		}
	}
}

func TestMunmapRequiresEveryPageMapped(t *testing.T) {
	_, ms := newTestSet(t)
	if err := ms.Mmap(mmapBase, 2*PageSize, 3); err != nil {
		t.Fatal(err)
	}
	from, to := probe()
	before := snapshot(ms, from, to)

	if err := ms.Munmap(mmapBase, 3*PageSize); !errors.Is(err, ErrNotMapped) {
		t.Errorf("Munmap() error = %v, want ErrNotMapped", err)
	}
	if err := ms.Munmap(mmapBase+1, PageSize); !errors.Is(err, ErrUnaligned) {
		t.Errorf("Munmap(unaligned) error = %v, want ErrUnaligned", err)
	}
	if after := snapshot(ms, from, to); after != before {
		t.Error("failed munmap changed the address space")
	}
}

func areaRanges(ms *MemorySet) []string {
	var out []string
	for _, a := range ms.Areas() {
		out = append(out, fmt.Sprintf("%d-%d", a.Start()-VirtAddr(mmapBase).Floor(), a.End()-VirtAddr(mmapBase).Floor()))
	}
	return out
}

func TestPartialMunmapBookkeeping(t *testing.T) {
	tests := []struct {
		name         string
		from, pages  uint64
		wantAreas    string
		wantMapped   int
		unmappedPage []uint64
	}{
		{"head", 0, 1, "1-4", 3, []uint64{0}},
		{"tail", 3, 1, "0-3", 3, []uint64{3}},
		{"middle splits", 1, 2, "0-1,3-4", 2, []uint64{1, 2}},
		{"whole", 0, 4, "", 0, []uint64{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ms := newTestSet(t)
			if err := ms.Mmap(mmapBase, 4*PageSize, 3); err != nil {
				t.Fatal(err)
			}
			free := m.Free()

			if err := ms.Munmap(mmapBase+tt.from*PageSize, tt.pages*PageSize); err != nil {
				t.Fatalf("Munmap() error = %v", err)
			}
			if got := strings.Join(areaRanges(ms), ","); got != tt.wantAreas {
				t.Errorf("areas = %q, want %q", got, tt.wantAreas)
			}
			if got := ms.MappedPages(); got != tt.wantMapped {
				t.Errorf("MappedPages() = %d, want %d", got, tt.wantMapped)
			}
			if got := m.Free() - free; got != int(tt.pages) {
				t.Errorf("frames returned = %d, want %d", got, tt.pages)
			}
			for _, p := range tt.unmappedPage {
				if _, ok := ms.Translate(VirtAddr(mmapBase).Floor() + VirtPageNum(p)); ok {
					t.Errorf("page %d still mapped", p)
				}
			}
			// every page of every remaining area is mapped
			for _, a := range ms.Areas() {
				for vpn := a.Start(); vpn < a.End(); vpn++ {
					if _, ok := ms.Translate(vpn); !ok {
						t.Errorf("area %v has unmapped page %#x", a, uint64(vpn))
					}
				}
			}
		})
	}
}

func TestMunmapAcrossAreas(t *testing.T) {
	_, ms := newTestSet(t)
	if err := ms.Mmap(mmapBase, 2*PageSize, 1); err != nil {
		t.Fatal(err)
	}
	if err := ms.Mmap(mmapBase+2*PageSize, 2*PageSize, 3); err != nil {
		t.Fatal(err)
	}
	if err := ms.Munmap(mmapBase+PageSize, 2*PageSize); err != nil {
		t.Fatalf("Munmap() error = %v", err)
	}
	if got := strings.Join(areaRanges(ms), ","); got != "0-1,3-4" {
		t.Errorf("areas = %q, want %q", got, "0-1,3-4")
	}
	// the remaining head and tail keep their own permissions
	areas := ms.Areas()
	if areas[0].Perm() != PermRead|PermUser || areas[1].Perm() != PermRead|PermWrite|PermUser {
		t.Errorf("perms = %v, %v", areas[0].Perm(), areas[1].Perm())
	}
}

func TestRemoveAreaWithStartVPN(t *testing.T) {
	m, ms := newTestSet(t)
	free := m.Free()
	if err := ms.InsertFramedArea(mmapBase, mmapBase+3*PageSize, PermRead|PermUser); err != nil {
		t.Fatal(err)
	}
	if ms.RemoveAreaWithStartVPN(VirtAddr(mmapBase).Floor() + 1) {
		t.Error("RemoveAreaWithStartVPN(wrong start) = true")
	}
	if !ms.RemoveAreaWithStartVPN(VirtAddr(mmapBase).Floor()) {
		t.Fatal("RemoveAreaWithStartVPN() = false")
	}
	// page-table frames stay allocated, data frames come back
	if got := free - m.Free(); got != 2 {
		t.Errorf("frames still used = %d, want 2 intermediate tables", got)
	}
}

func testImage() []byte {
	text := bytes.Repeat([]byte{0x13}, 16)
	data := []byte("initialized data")
	return loader.Build(0x10000,
		loader.Segment{Vaddr: 0x10000, Flags: elf.PF_R | elf.PF_X, Data: text},
		loader.Segment{Vaddr: 0x11008, MemSize: PageSize + 8, Flags: elf.PF_R | elf.PF_W, Data: data},
	)
}

func TestFromImage(t *testing.T) {
	m := NewMemory(64)
	ms, sp, entry, err := FromImage(m, testImage())
	if err != nil {
		t.Fatalf("FromImage() error = %v", err)
	}
	if entry != 0x10000 {
		t.Errorf("entry = %#x, want 0x10000", entry)
	}
	// data ends in page 0x12, guard page 0x13, stack 0x14-0x15
	if want := uint64(0x13000 + PageSize + UserStackSize); sp != want {
		t.Errorf("user sp = %#x, want %#x", sp, want)
	}

	e, ok := ms.Translate(0x10)
	if !ok || !e.Executable() || e.Writable() || !e.User() {
		t.Errorf("text page flags = %v, %v", e.Flags(), ok)
	}

	got := make([]byte, 16)
	if err := ReadUser(ms.PageTable(), 0x11008, got); err != nil {
		t.Fatalf("ReadUser() error = %v", err)
	}
	if string(got) != "initialized data" {
		t.Errorf("data = %q", got)
	}
	if _, ok := ms.Translate(0x13); ok {
		t.Error("guard page is mapped")
	}
	if e, ok := ms.Translate(VirtAddr(sp - 1).Floor()); !ok || !e.Writable() {
		t.Error("stack top page not writable")
	}

	areas := ms.Areas()
	heap := areas[len(areas)-1]
	if heap.Start() != VirtAddr(sp).Floor() || heap.Pages() != 0 {
		t.Errorf("heap area = %v, want empty area at %#x", heap, sp)
	}
}

func TestFromImageBadData(t *testing.T) {
	m := NewMemory(16)
	if _, _, _, err := FromImage(m, []byte{1, 2, 3}); !errors.Is(err, loader.ErrBadImage) {
		t.Errorf("FromImage() error = %v, want ErrBadImage", err)
	}
	if m.Free() != 16 {
		t.Errorf("Free() = %d, want 16", m.Free())
	}
}

func TestFromImageOutOfFramesReleases(t *testing.T) {
	m := NewMemory(6)
	if _, _, _, err := FromImage(m, testImage()); !errors.Is(err, ErrOutOfFrames) {
		t.Fatalf("FromImage() error = %v, want ErrOutOfFrames", err)
	}
	if m.Free() != 6 {
		t.Errorf("Free() = %d, want 6 after failed load", m.Free())
	}
}

func TestHeapAppendShrink(t *testing.T) {
	m := NewMemory(64)
	ms, sp, _, err := FromImage(m, testImage())
	if err != nil {
		t.Fatal(err)
	}
	heap := VirtAddr(sp)

	if err := ms.AppendTo(heap, heap+2*PageSize+1); err != nil {
		t.Fatalf("AppendTo() error = %v", err)
	}
	for i := VirtPageNum(0); i < 3; i++ {
		if _, ok := ms.Translate(heap.Floor() + i); !ok {
			t.Errorf("heap page %d not mapped", i)
		}
	}
	if err := ms.ShrinkTo(heap, heap+PageSize); err != nil {
		t.Fatalf("ShrinkTo() error = %v", err)
	}
	if _, ok := ms.Translate(heap.Floor() + 1); ok {
		t.Error("heap page 1 still mapped after shrink")
	}
	if err := ms.AppendTo(heap+PageSize*100, heap+PageSize*101); !errors.Is(err, ErrNoArea) {
		t.Errorf("AppendTo(no area) error = %v, want ErrNoArea", err)
	}

	if err := ms.Mmap(uint64(heap)+2*PageSize, PageSize, 3); err != nil {
		t.Fatal(err)
	}
	if err := ms.AppendTo(heap, heap+3*PageSize); !errors.Is(err, ErrAlreadyMapped) {
		t.Errorf("AppendTo(over mmap) error = %v, want ErrAlreadyMapped", err)
	}
}

func TestFromExistedUserCopies(t *testing.T) {
	m := NewMemory(128)
	parent, _, _, err := FromImage(m, testImage())
	if err != nil {
		t.Fatal(err)
	}
	if err := parent.Mmap(mmapBase, PageSize, 3); err != nil {
		t.Fatal(err)
	}
	if err := WriteUser(parent.PageTable(), mmapBase, []byte("parent")); err != nil {
		t.Fatal(err)
	}

	child, err := FromExistedUser(parent)
	if err != nil {
		t.Fatalf("FromExistedUser() error = %v", err)
	}
	if child.MappedPages() != parent.MappedPages() {
		t.Errorf("child pages = %d, want %d", child.MappedPages(), parent.MappedPages())
	}

	if err := WriteUser(child.PageTable(), mmapBase, []byte("child!")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 6)
	_ = ReadUser(parent.PageTable(), mmapBase, got)
	if string(got) != "parent" {
		t.Errorf("parent memory = %q after child write", got)
	}
	_ = ReadUser(child.PageTable(), 0x11008, got)
	if string(got) != "initia" {
		t.Errorf("child data segment = %q", got)
	}
}

func TestRecycleAndRelease(t *testing.T) {
	m := NewMemory(64)
	ms, _, _, err := FromImage(m, testImage())
	if err != nil {
		t.Fatal(err)
	}
	ms.RecycleDataPages()
	if ms.MappedPages() != 0 || len(ms.Areas()) != 0 {
		t.Error("RecycleDataPages() left areas behind")
	}
	if m.Free() == 64 {
		t.Error("page-table frames released by RecycleDataPages")
	}
	ms.Release()
	if m.Free() != 64 {
		t.Errorf("Free() = %d after Release, want 64", m.Free())
	}
}
