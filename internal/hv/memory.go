package hv

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Memory adapts an io.ReaderAt whose offsets are target addresses into a
// MemoryReader.
type Memory struct {
	R io.ReaderAt
}

func (m Memory) ReadBytes(addr uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, &UnreadableError{Addr: addr, Len: n, Err: fmt.Errorf("negative length")}
	}
	if addr > math.MaxInt64 || addr+uint64(n) < addr {
		return nil, &UnreadableError{Addr: addr, Len: n, Err: fmt.Errorf("address out of range")}
	}

	buf := make([]byte, n)
	got, err := m.R.ReadAt(buf, int64(addr))
	if got == n {
		// io.ReaderAt may report io.EOF together with a full read.
		return buf, nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return nil, &UnreadableError{Addr: addr, Len: n, Err: err}
}

func (m Memory) ReadU64(addr uint64) (uint64, error) {
	b, err := m.ReadBytes(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (m Memory) ReadU32(addr uint64) (uint32, error) {
	b, err := m.ReadBytes(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

var _ MemoryReader = Memory{}
