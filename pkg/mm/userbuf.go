package mm

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxUserString bounds TranslatedStr.
const MaxUserString = PageSize

// ErrBadAddress is returned when a user pointer does not translate to memory
// the kernel may access on the user's behalf.
var ErrBadAddress = errors.New("mm: bad user address")

// TranslatedByteBuffer returns the physical byte slices backing the user
// range [va, va+n). Every page must be valid and user accessible, and
// writable when write is set.
func TranslatedByteBuffer(pt *PageTable, va uint64, n int, write bool) ([][]byte, error) {
	if n < 0 || va+uint64(n) < va || va+uint64(n) > MaxVA {
		return nil, fmt.Errorf("%w: %#x+%d", ErrBadAddress, va, n)
	}
	var out [][]byte
	cur := VirtAddr(va)
	end := VirtAddr(va + uint64(n))
	for cur < end {
		e, ok := pt.Translate(cur.Floor())
		if !ok || !e.User() || (write && !e.Writable()) {
			return nil, fmt.Errorf("%w: %#x", ErrBadAddress, uint64(cur))
		}
		frame := pt.mem.Frame(e.PPN())
		off := cur.PageOffset()
		chunk := min(uint64(end-cur), PageSize-off)
		out = append(out, frame[off:off+chunk])
		cur += VirtAddr(chunk)
	}
	return out, nil
}

// ReadUser fills buf from user memory at va.
func ReadUser(pt *PageTable, va uint64, buf []byte) error {
	parts, err := TranslatedByteBuffer(pt, va, len(buf), false)
	if err != nil {
		return err
	}
	for _, p := range parts {
		buf = buf[copy(buf, p):]
	}
	return nil
}

// WriteUser copies data into user memory at va. Nothing is written unless the
// whole range translates.
func WriteUser(pt *PageTable, va uint64, data []byte) error {
	parts, err := TranslatedByteBuffer(pt, va, len(data), true)
	if err != nil {
		return err
	}
	for _, p := range parts {
		data = data[copy(p, data):]
	}
	return nil
}

// TranslatedStr reads a NUL-terminated string from user memory.
func TranslatedStr(pt *PageTable, va uint64) (string, error) {
	var b []byte
	cur := VirtAddr(va)
	for len(b) < MaxUserString {
		if uint64(cur) >= MaxVA {
			return "", fmt.Errorf("%w: %#x", ErrBadAddress, uint64(cur))
		}
		e, ok := pt.Translate(cur.Floor())
		if !ok || !e.User() {
			return "", fmt.Errorf("%w: %#x", ErrBadAddress, uint64(cur))
		}
		chunk := pt.mem.Frame(e.PPN())[cur.PageOffset():]
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(b, chunk[:i]...)), nil
		}
		b = append(b, chunk...)
		cur += VirtAddr(len(chunk))
	}
	return "", fmt.Errorf("%w: string at %#x is not terminated", ErrBadAddress, va)
}
