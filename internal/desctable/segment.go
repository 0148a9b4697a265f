package desctable

import (
	"fmt"

	"github.com/tinyrange/kdbg/internal/hv"
)

// Segment is a decoded GDT slot.
type Segment struct {
	Raw            uint64
	Present        bool
	DPL            uint8
	DescriptorType bool // S bit: set for code/data, clear for system
	SegmentType    uint8
}

// ParseSegment decodes the access fields of an 8-byte descriptor.
func ParseSegment(raw uint64) Segment {
	return Segment{
		Raw:            raw,
		Present:        (raw>>47)&0x1 != 0,
		DPL:            uint8((raw >> 45) & 0x3),
		DescriptorType: (raw>>44)&0x1 != 0,
		SegmentType:    uint8((raw >> 40) & 0xF),
	}
}

// DecodeSegment reads and decodes slot index of the GDT at base.
func DecodeSegment(mem hv.MemoryReader, base uint64, index int) (Segment, error) {
	raw, err := mem.ReadU64(entryAddr(base, index, SegmentSize))
	if err != nil {
		return Segment{}, fmt.Errorf("read GDT[%d]: %w", index, err)
	}
	return ParseSegment(raw), nil
}

// IsNull reports whether s is the mandatory null descriptor in slot 0.
func (s Segment) IsNull(index int) bool {
	return index == 0 && s.Raw == 0
}

// IsSystem reports whether s is a system descriptor (LDT, TSS, gate).
func (s Segment) IsSystem() bool { return !s.DescriptorType }

// Code reports whether s is a code segment.
func (s Segment) Code() bool { return s.DescriptorType && s.SegmentType&0x8 != 0 }

// Base returns the 32-bit base held in the low descriptor.
func (s Segment) Base() uint64 {
	r := s.Raw
	return (r&0xFF00_0000_0000_0000)>>32 | (r&0x0000_00FF_0000_0000)>>16 | (r&0x0000_0000_FFFF_0000)>>16
}

// Limit returns the 20-bit limit field, not scaled by granularity.
func (s Segment) Limit() uint32 {
	return uint32((s.Raw&0x000F_0000_0000_0000)>>32 | s.Raw&0xFFFF)
}

func (s Segment) Granularity() bool { return s.Raw&(1<<55) != 0 }
func (s Segment) DefaultSize() bool { return s.Raw&(1<<54) != 0 }
func (s Segment) Long() bool        { return s.Raw&(1<<53) != 0 }

// Wide reports whether s is a long-mode system descriptor that spans two
// GDT slots (LDT, TSS, call gate).
func (s Segment) Wide() bool {
	if !s.IsSystem() {
		return false
	}
	switch s.SegmentType {
	case 0x2, 0x9, 0xB, 0xC:
		return true
	}
	return false
}

// WideBase combines the low descriptor's base with the upper 32 bits held
// in the next slot of a wide descriptor.
func (s Segment) WideBase(upper uint64) uint64 {
	return uint64(uint32(upper))<<32 | s.Base()
}

var systemTypeNames = map[uint8]string{
	0x2: "LDT",
	0x9: "TSS (available)",
	0xB: "TSS (busy)",
	0xC: "Call Gate",
	0xE: "Interrupt Gate",
	0xF: "Trap Gate",
}

// TypeName describes the segment type field.
func (s Segment) TypeName() string {
	if s.IsSystem() {
		if name, ok := systemTypeNames[s.SegmentType]; ok {
			return name
		}
		return fmt.Sprintf("System(%#x)", s.SegmentType)
	}
	if s.Code() {
		name := "Code"
		if s.SegmentType&0x2 != 0 {
			name += " RX"
		} else {
			name += " X"
		}
		if s.SegmentType&0x4 != 0 {
			name += " conforming"
		}
		if s.Long() {
			name += " 64-bit"
		}
		return name
	}
	name := "Data"
	if s.SegmentType&0x2 != 0 {
		name += " RW"
	} else {
		name += " RO"
	}
	if s.SegmentType&0x4 != 0 {
		name += " expand-down"
	}
	return name
}
