package paging

import "fmt"

// PhysAddr is a guest-physical address.
type PhysAddr uint64

// VirtAddr is a guest-virtual address.
type VirtAddr uint64

func (a PhysAddr) String() string { return fmt.Sprintf("%#016x", uint64(a)) }
func (a VirtAddr) String() string { return fmt.Sprintf("%#016x", uint64(a)) }

// Level identifies one of the four x86_64 paging levels.
type Level uint8

const (
	LevelPML4 Level = iota
	LevelPDPT
	LevelPD
	LevelPT

	pageLevels = 4
)

const (
	// EntriesPerTable is the number of 8-byte entries in every paging table.
	EntriesPerTable = 512

	entrySize   = 8
	indexMask   = 0x1ff
	offsetMask  = 0xfff
	addressBits = 48
)

// pageLevelShifts is the virtual-address shift of each level's index.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

func (l Level) String() string {
	switch l {
	case LevelPML4:
		return "PML4"
	case LevelPDPT:
		return "PDPT"
	case LevelPD:
		return "PD"
	case LevelPT:
		return "PT"
	default:
		return fmt.Sprintf("Level(%d)", uint8(l))
	}
}

// hugePageSize returns the page size mapped by an entry at l with the PS bit
// set, or false when l cannot terminate a walk early.
func (l Level) hugePageSize() (PageSize, bool) {
	switch l {
	case LevelPDPT:
		return PageSize1G, true
	case LevelPD:
		return PageSize2M, true
	default:
		return 0, false
	}
}

// PageSize is the size of the page that produced a translation.
type PageSize uint64

const (
	PageSize4K PageSize = 1 << 12
	PageSize2M PageSize = 1 << 21
	PageSize1G PageSize = 1 << 30
)

func (s PageSize) String() string {
	switch s {
	case PageSize4K:
		return "4KiB"
	case PageSize2M:
		return "2MiB"
	case PageSize1G:
		return "1GiB"
	default:
		return fmt.Sprintf("PageSize(%#x)", uint64(s))
	}
}

// Indices is the decomposition of a virtual address into per-level table
// indices and the page offset.
type Indices struct {
	PML4, PDPT, PD, PT uint16
	Offset             uint16
}

// Indices splits va using the 48-bit, 4-level layout. Bits 48-63 are
// ignored; canonical form is not checked.
func (va VirtAddr) Indices() Indices {
	v := uint64(va)
	return Indices{
		PML4:   uint16((v >> pageLevelShifts[LevelPML4]) & indexMask),
		PDPT:   uint16((v >> pageLevelShifts[LevelPDPT]) & indexMask),
		PD:     uint16((v >> pageLevelShifts[LevelPD]) & indexMask),
		PT:     uint16((v >> pageLevelShifts[LevelPT]) & indexMask),
		Offset: uint16(v & offsetMask),
	}
}

// At returns the index used at level l.
func (i Indices) At(l Level) uint16 {
	switch l {
	case LevelPML4:
		return i.PML4
	case LevelPDPT:
		return i.PDPT
	case LevelPD:
		return i.PD
	default:
		return i.PT
	}
}

// Addr reassembles the low 48 bits of the address the indices came from.
func (i Indices) Addr() VirtAddr {
	return VirtAddr(uint64(i.PML4)<<39 |
		uint64(i.PDPT)<<30 |
		uint64(i.PD)<<21 |
		uint64(i.PT)<<12 |
		uint64(i.Offset))
}

// Canonical sign-extends bit 47 into bits 48-63.
func Canonical(va VirtAddr) VirtAddr {
	v := uint64(va) & (1<<addressBits - 1)
	if v&(1<<(addressBits-1)) != 0 {
		v |= ^uint64(1<<addressBits - 1)
	}
	return VirtAddr(v)
}

// IsCanonical reports whether bits 48-63 of va copy bit 47. The walker does
// not use it; it is exposed for display.
func IsCanonical(va VirtAddr) bool {
	return Canonical(va) == va
}
