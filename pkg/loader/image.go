// Package loader holds the program images user tasks are created from: a
// small ELF64 writer and reader, and a registry that looks images up by name.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	ehdrSize = 64
	phdrSize = 56
	// segmentAlign is the p_align written for every segment.
	segmentAlign = 0x1000
)

// Image errors.
var (
	ErrBadImage    = errors.New("loader: malformed program image")
	ErrWrongTarget = errors.New("loader: image is not a 64-bit RISC-V executable")
)

// Segment is one loadable region of an image.
type Segment struct {
	// Vaddr is where the segment starts in the user address space.
	Vaddr uint64
	// MemSize is the size of the region in memory. Bytes past len(Data) are zero.
	MemSize uint64
	// Flags are the ELF segment permissions.
	Flags elf.ProgFlag
	// Data is the file content of the segment.
	Data []byte
}

// Image is a parsed program image.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Build writes a little-endian ELF64 RISC-V executable with one PT_LOAD
// program header per segment. A segment whose MemSize is smaller than its
// data is grown to fit.
func Build(entry uint64, segments ...Segment) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian

	ident := [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F'}
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	ident[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)

	hdr := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     entry,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(segments)),
	}
	_ = binary.Write(&buf, le, &hdr)

	off := uint64(ehdrSize + phdrSize*len(segments))
	for _, s := range segments {
		memsz := s.MemSize
		if memsz < uint64(len(s.Data)) {
			memsz = uint64(len(s.Data))
		}
		ph := elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(s.Flags),
			Off:    off,
			Vaddr:  s.Vaddr,
			Paddr:  s.Vaddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  memsz,
			Align:  segmentAlign,
		}
		_ = binary.Write(&buf, le, &ph)
		off += uint64(len(s.Data))
	}
	for _, s := range segments {
		buf.Write(s.Data)
	}
	return buf.Bytes()
}

// Parse reads the loadable segments of an ELF64 RISC-V executable.
func Parse(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV || f.Type != elf.ET_EXEC {
		return nil, ErrWrongTarget
	}

	img := &Image{Entry: f.Entry}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Memsz < p.Filesz {
			return nil, fmt.Errorf("%w: segment at %#x has memsz < filesz", ErrBadImage, p.Vaddr)
		}
		content, err := io.ReadAll(p.Open())
		if err != nil {
			return nil, fmt.Errorf("%w: segment at %#x: %v", ErrBadImage, p.Vaddr, err)
		}
		img.Segments = append(img.Segments, Segment{
			Vaddr:   p.Vaddr,
			MemSize: p.Memsz,
			Flags:   p.Flags,
			Data:    content,
		})
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("%w: no loadable segments", ErrBadImage)
	}
	return img, nil
}
