package desctable

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/kdbg/internal/hv"
)

// GateType is the 4-bit type field of an IDT gate.
type GateType uint8

const (
	GateInterrupt GateType = 0xE
	GateTrap      GateType = 0xF
)

// Known reports whether t is one of the two long-mode gate types.
func (t GateType) Known() bool {
	return t == GateInterrupt || t == GateTrap
}

func (t GateType) String() string {
	switch t {
	case GateInterrupt:
		return "Interrupt"
	case GateTrap:
		return "Trap"
	default:
		return fmt.Sprintf("Unknown(%#x)", uint8(t))
	}
}

// Gate is a decoded long-mode IDT gate descriptor.
type Gate struct {
	Offset   uint64
	Selector uint16
	IST      uint8
	Type     GateType
	DPL      uint8
	Present  bool
}

// Unused reports whether a listing should leave g out: gates that are not
// present or have no handler.
func (g Gate) Unused() bool {
	return !g.Present || g.Offset == 0
}

// ParseGate decodes a 16-byte gate descriptor.
//
//	[0:2)  offset 0-15     [2:4)  selector
//	[4]    IST (bits 0-2)  [5]    type/attributes
//	[6:8)  offset 16-31    [8:12) offset 32-63
func ParseGate(b []byte) (Gate, error) {
	if len(b) < GateSize {
		return Gate{}, fmt.Errorf("gate descriptor needs %d bytes, got %d", GateSize, len(b))
	}
	offsetLow := uint64(binary.LittleEndian.Uint16(b[0:2]))
	offsetMid := uint64(binary.LittleEndian.Uint16(b[6:8]))
	offsetHigh := uint64(binary.LittleEndian.Uint32(b[8:12]))
	typeAttr := b[5]

	return Gate{
		Offset:   offsetHigh<<32 | offsetMid<<16 | offsetLow,
		Selector: binary.LittleEndian.Uint16(b[2:4]),
		IST:      b[4] & 0x7,
		Type:     GateType(typeAttr & 0xF),
		DPL:      (typeAttr >> 5) & 0x3,
		Present:  typeAttr&0x80 != 0,
	}, nil
}

// DecodeGate reads and decodes gate index of the IDT at base. The gate is
// returned as decoded whether or not it is present.
func DecodeGate(mem hv.MemoryReader, base uint64, index int) (Gate, error) {
	b, err := mem.ReadBytes(entryAddr(base, index, GateSize), GateSize)
	if err != nil {
		return Gate{}, fmt.Errorf("read IDT[%d]: %w", index, err)
	}
	return ParseGate(b)
}

var vectorNames = [32]string{
	0:  "#DE Divide Error",
	1:  "#DB Debug",
	2:  "NMI",
	3:  "#BP Breakpoint",
	4:  "#OF Overflow",
	5:  "#BR Bound Range Exceeded",
	6:  "#UD Invalid Opcode",
	7:  "#NM Device Not Available",
	8:  "#DF Double Fault",
	9:  "Coprocessor Segment Overrun",
	10: "#TS Invalid TSS",
	11: "#NP Segment Not Present",
	12: "#SS Stack-Segment Fault",
	13: "#GP General Protection",
	14: "#PF Page Fault",
	16: "#MF x87 Floating-Point",
	17: "#AC Alignment Check",
	18: "#MC Machine Check",
	19: "#XM SIMD Floating-Point",
	20: "#VE Virtualization",
	21: "#CP Control Protection",
	28: "#HV Hypervisor Injection",
	29: "#VC VMM Communication",
	30: "#SX Security",
}

// VectorName returns the architectural name of exception vector v, or ""
// for reserved and external vectors.
func VectorName(v int) string {
	if v < 0 || v >= len(vectorNames) {
		return ""
	}
	return vectorNames[v]
}
