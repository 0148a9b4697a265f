// Package hvtest provides in-memory targets for tests.
package hvtest

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/kdbg/internal/hv"
)

const pageSize = 0x1000

// Memory is a sparse physical memory. Pages that were never written read as
// zero; pages marked with Fail return an error.
type Memory struct {
	pages  map[uint64][]byte
	failed map[uint64]bool

	// Reads counts ReadAt calls.
	Reads int
}

func NewMemory() *Memory {
	return &Memory{
		pages:  make(map[uint64][]byte),
		failed: make(map[uint64]bool),
	}
}

func (m *Memory) page(addr uint64) []byte {
	base := addr &^ (pageSize - 1)
	p, ok := m.pages[base]
	if !ok {
		p = make([]byte, pageSize)
		m.pages[base] = p
	}
	return p
}

// Write copies b to addr.
func (m *Memory) Write(addr uint64, b []byte) {
	for len(b) > 0 {
		p := m.page(addr)
		n := copy(p[addr&(pageSize-1):], b)
		b = b[n:]
		addr += uint64(n)
	}
}

func (m *Memory) WriteU64(addr, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	m.Write(addr, b[:])
}

// Fail makes every read touching the page containing addr fail.
func (m *Memory) Fail(addr uint64) {
	m.failed[addr&^(pageSize-1)] = true
}

// ReadAt implements io.ReaderAt.
func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.Reads++
	addr := uint64(off)
	n := 0
	for n < len(p) {
		base := addr &^ (pageSize - 1)
		if m.failed[base] {
			return n, fmt.Errorf("page %#x is not mapped", base)
		}
		var c int
		if page, ok := m.pages[base]; ok {
			c = copy(p[n:], page[addr-base:])
		} else {
			c = min(len(p)-n, int(pageSize-(addr-base)))
			clear(p[n : n+c])
		}
		n += c
		addr += uint64(c)
	}
	return n, nil
}

// Target is an hv.Target backed by a Memory and a fixed register file.
type Target struct {
	hv.Memory
	hv.RegisterSet

	Mem    *Memory
	Closed bool
}

func NewTarget(mem *Memory, regs hv.RegisterSet) *Target {
	if regs == nil {
		regs = hv.RegisterSet{}
	}
	return &Target{Memory: hv.Memory{R: mem}, RegisterSet: regs, Mem: mem}
}

func (t *Target) Architecture() hv.CpuArchitecture { return hv.ArchitectureX86_64 }

func (t *Target) Close() error {
	t.Closed = true
	return nil
}

var _ hv.Target = &Target{}
