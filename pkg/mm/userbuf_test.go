package mm

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestWriteUserAcrossPages(t *testing.T) {
	_, ms := newTestSet(t)
	if err := ms.Mmap(mmapBase, 2*PageSize, 3); err != nil {
		t.Fatal(err)
	}

	// a 16-byte value straddling the first page boundary
	va := uint64(mmapBase + PageSize - 8)
	var val [16]byte
	binary.LittleEndian.PutUint64(val[:], 0x1122334455667788)
	binary.LittleEndian.PutUint64(val[8:], 42)
	if err := WriteUser(ms.PageTable(), va, val[:]); err != nil {
		t.Fatalf("WriteUser() error = %v", err)
	}

	parts, err := TranslatedByteBuffer(ms.PageTable(), va, 16, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 || len(parts[0]) != 8 || len(parts[1]) != 8 {
		t.Fatalf("parts = %d slices", len(parts))
	}

	var got [16]byte
	if err := ReadUser(ms.PageTable(), va, got[:]); err != nil {
		t.Fatal(err)
	}
	if got != val {
		t.Errorf("ReadUser() = %x, want %x", got, val)
	}
}

func TestWriteUserFaults(t *testing.T) {
	_, ms := newTestSet(t)
	if err := ms.Mmap(mmapBase, PageSize, 1); err != nil {
		t.Fatal(err)
	}
	if err := ms.Mmap(mmapBase+PageSize, PageSize, 3); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		va   uint64
		n    int
	}{
		{"read-only page", mmapBase, 4},
		{"unmapped page", mmapBase + 2*PageSize, 4},
		{"runs off the end", mmapBase + 2*PageSize - 2, 4},
		{"outside user space", MaxVA - 2, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := WriteUser(ms.PageTable(), tt.va, make([]byte, tt.n)); !errors.Is(err, ErrBadAddress) {
				t.Errorf("WriteUser() error = %v, want ErrBadAddress", err)
			}
		})
	}

	// nothing was written into the writable page before the fault
	buf := make([]byte, 2)
	_ = ReadUser(ms.PageTable(), mmapBase+2*PageSize-2, buf)
	if buf[0] != 0 || buf[1] != 0 {
		t.Errorf("partial write happened: %v", buf)
	}
}

func TestReadUserRequiresUserPage(t *testing.T) {
	_, ms := newTestSet(t)
	if err := ms.InsertFramedArea(mmapBase, mmapBase+PageSize, PermRead|PermWrite); err != nil {
		t.Fatal(err)
	}
	if err := ReadUser(ms.PageTable(), mmapBase, make([]byte, 1)); !errors.Is(err, ErrBadAddress) {
		t.Errorf("ReadUser(kernel page) error = %v, want ErrBadAddress", err)
	}
}

func TestTranslatedStr(t *testing.T) {
	_, ms := newTestSet(t)
	if err := ms.Mmap(mmapBase, 2*PageSize, 3); err != nil {
		t.Fatal(err)
	}
	va := uint64(mmapBase + PageSize - 3)
	if err := WriteUser(ms.PageTable(), va, []byte("ch5_spawn0\x00")); err != nil {
		t.Fatal(err)
	}
	s, err := TranslatedStr(ms.PageTable(), va)
	if err != nil {
		t.Fatalf("TranslatedStr() error = %v", err)
	}
	if s != "ch5_spawn0" {
		t.Errorf("TranslatedStr() = %q", s)
	}

	if _, err := TranslatedStr(ms.PageTable(), mmapBase+5*PageSize); !errors.Is(err, ErrBadAddress) {
		t.Errorf("TranslatedStr(unmapped) error = %v, want ErrBadAddress", err)
	}

	// no terminator before the mapping ends
	fill := make([]byte, 8)
	for i := range fill {
		fill[i] = 'x'
	}
	_ = WriteUser(ms.PageTable(), mmapBase+2*PageSize-8, fill)
	if _, err := TranslatedStr(ms.PageTable(), mmapBase+2*PageSize-8); !errors.Is(err, ErrBadAddress) {
		t.Errorf("TranslatedStr(unterminated) error = %v, want ErrBadAddress", err)
	}
}
