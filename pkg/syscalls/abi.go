package syscalls

import (
	"encoding/binary"

	"strideos/pkg/process"
	"strideos/pkg/timer"
)

// TimeVal is written by get_time.
type TimeVal struct {
	Sec  uint64
	Usec uint64
}

// TimeValFromMicros splits a microsecond reading.
func TimeValFromMicros(us uint64) TimeVal {
	return TimeVal{Sec: us / timer.MicrosPerSec, Usec: us % timer.MicrosPerSec}
}

// TaskInfo is written by task_info. The layout matches the C struct on a
// 64-bit little-endian target: 4 bytes of padding keep Time 8-aligned.
type TaskInfo struct {
	Status       uint32
	SyscallTimes [process.MaxSyscallNum]uint32
	_            uint32
	Time         uint64
}

// Encoded sizes.
var (
	TimeValSize  = binary.Size(TimeVal{})
	TaskInfoSize = binary.Size(TaskInfo{})
)

// encode lays v out in guest byte order.
func encode(v any) []byte {
	buf, err := binary.Append(nil, binary.LittleEndian, v)
	if err != nil {
		panic(err)
	}
	return buf
}

func encodeInt32(v int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(v))
}
