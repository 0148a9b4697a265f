package hv

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrUnreadable is matched by every failed memory or register read.
	ErrUnreadable = errors.New("unreadable")

	// ErrParseFailure is returned when a target reports register state that
	// cannot be interpreted.
	ErrParseFailure = errors.New("register state could not be parsed")

	ErrRegisterUnsupported = errors.New("register not supported by target")
)

type CpuArchitecture string

const (
	ArchitectureInvalid CpuArchitecture = "invalid"
	ArchitectureX86_64  CpuArchitecture = "x86_64"
)

type RegisterValue interface {
	isRegisterValue()
}

type Register64 uint64

func (r Register64) isRegisterValue() {}

// DescriptorTable is the value of a descriptor-table register (GDTR, IDTR).
type DescriptorTable struct {
	Base  uint64
	Limit uint16
}

func (DescriptorTable) isRegisterValue() {}

// Capacity returns how many entries of entrySize bytes the limit describes.
func (t DescriptorTable) Capacity(entrySize int) int {
	if entrySize <= 0 {
		return 0
	}
	return (int(t.Limit) + 1) / entrySize
}

type Register uint64

const (
	RegisterInvalid Register = iota

	// AMD64 control and system registers
	RegisterAMD64Cr0
	RegisterAMD64Cr2
	RegisterAMD64Cr3
	RegisterAMD64Cr4
	RegisterAMD64Efer
	RegisterAMD64Gdtr
	RegisterAMD64Idtr
)

var registerNames = map[Register]string{
	RegisterAMD64Cr0:  "cr0",
	RegisterAMD64Cr2:  "cr2",
	RegisterAMD64Cr3:  "cr3",
	RegisterAMD64Cr4:  "cr4",
	RegisterAMD64Efer: "efer",
	RegisterAMD64Gdtr: "gdtr",
	RegisterAMD64Idtr: "idtr",
}

func (r Register) String() string {
	if name, ok := registerNames[r]; ok {
		return name
	}
	return fmt.Sprintf("register(%d)", uint64(r))
}

// IsDescriptorTable reports whether r holds a {base, limit} pair.
func (r Register) IsDescriptorTable() bool {
	return r == RegisterAMD64Gdtr || r == RegisterAMD64Idtr
}

// ParseRegister looks a register up by its lower-case or upper-case name.
func ParseRegister(name string) (Register, error) {
	name = strings.ToLower(strings.TrimPrefix(name, "$"))
	for reg, n := range registerNames {
		if n == name {
			return reg, nil
		}
	}
	return RegisterInvalid, fmt.Errorf("unknown register %q", name)
}

// MemoryReader reads raw little-endian data from the inspected target.
// Every failure satisfies errors.Is(err, ErrUnreadable).
type MemoryReader interface {
	ReadU64(addr uint64) (uint64, error)
	ReadU32(addr uint64) (uint32, error)
	ReadBytes(addr uint64, n int) ([]byte, error)
}

// RegisterReader returns control and descriptor-table registers of the
// target's current CPU.
type RegisterReader interface {
	ReadControlRegister(reg Register) (uint64, error)
	ReadDescriptorTableRegister(reg Register) (DescriptorTable, error)
}

// Target is a live or halted machine that can be inspected.
type Target interface {
	MemoryReader
	RegisterReader
	io.Closer

	Architecture() CpuArchitecture
}

// UnreadableError describes a failed read of Len bytes at Addr.
type UnreadableError struct {
	Addr uint64
	Len  int
	Err  error
}

func (e *UnreadableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot read %d bytes at %#x", e.Len, e.Addr)
	}
	return fmt.Sprintf("cannot read %d bytes at %#x: %v", e.Len, e.Addr, e.Err)
}

func (e *UnreadableError) Unwrap() error { return e.Err }

func (e *UnreadableError) Is(target error) bool { return target == ErrUnreadable }

// RegisterError describes a register the target could not deliver.
type RegisterError struct {
	Register Register
	Err      error
}

func (e *RegisterError) Error() string {
	return fmt.Sprintf("cannot read %s: %v", e.Register, e.Err)
}

func (e *RegisterError) Unwrap() error { return e.Err }

func (e *RegisterError) Is(target error) bool { return target == ErrUnreadable }

// ParseError carries the register-state text that could not be interpreted.
type ParseError struct {
	What string
	Text string
}

func (e *ParseError) Error() string {
	text := strings.TrimSpace(e.Text)
	if len(text) > 120 {
		text = text[:120] + "..."
	}
	return fmt.Sprintf("cannot parse %s from %q", e.What, text)
}

func (e *ParseError) Is(target error) bool { return target == ErrParseFailure }
