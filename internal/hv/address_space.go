package hv

import (
	"fmt"
	"sort"
)

const (
	// DefaultPCIHoleStart is where x86 machines stop placing RAM below 4 GiB.
	DefaultPCIHoleStart = 0xC000_0000
	highMemoryBase      = 0x1_0000_0000
)

// MemoryRegion is a contiguous range of guest-physical RAM.
type MemoryRegion struct {
	Name string
	Base uint64
	Size uint64
}

func (r MemoryRegion) End() uint64 { return r.Base + r.Size }

func (r MemoryRegion) Contains(addr uint64) bool {
	return addr >= r.Base && addr < r.End()
}

// AddressSpace describes where a target's RAM lives in guest-physical
// memory. It is used to decide which ranges are worth capturing.
type AddressSpace struct {
	arch    CpuArchitecture
	regions []MemoryRegion
}

// NewAddressSpace creates a layout with a single contiguous RAM region.
func NewAddressSpace(arch CpuArchitecture, ramBase, ramSize uint64) *AddressSpace {
	return &AddressSpace{
		arch: arch,
		regions: []MemoryRegion{
			{Name: "ram", Base: ramBase, Size: alignUp(ramSize, 0x1000)},
		},
	}
}

// NewAddressSpaceSplit creates a layout for RAM split around the PCI hole.
// Low memory: [lowBase, lowBase+lowSize)
// High memory: [highBase, highBase+highSize)
func NewAddressSpaceSplit(arch CpuArchitecture, lowBase, lowSize, highBase, highSize uint64) (*AddressSpace, error) {
	if lowBase+lowSize > highBase {
		return nil, fmt.Errorf("address_space: low RAM [0x%x-0x%x) overlaps high RAM at 0x%x",
			lowBase, lowBase+lowSize, highBase)
	}
	a := &AddressSpace{arch: arch}
	a.regions = append(a.regions, MemoryRegion{Name: "ram-low", Base: lowBase, Size: alignUp(lowSize, 0x1000)})
	if highSize > 0 {
		a.regions = append(a.regions, MemoryRegion{Name: "ram-high", Base: highBase, Size: alignUp(highSize, 0x1000)})
	}
	return a, nil
}

// X86AddressSpace lays out ramSize bytes starting at physical zero. RAM that
// would overlap the PCI hole at holeStart is moved above 4 GiB.
func X86AddressSpace(ramSize, holeStart uint64) *AddressSpace {
	if holeStart == 0 {
		holeStart = DefaultPCIHoleStart
	}
	if ramSize <= holeStart {
		return NewAddressSpace(ArchitectureX86_64, 0, ramSize)
	}
	// holeStart is below 4 GiB, so the split cannot overlap.
	a, _ := NewAddressSpaceSplit(ArchitectureX86_64, 0, holeStart, highMemoryBase, ramSize-holeStart)
	return a
}

// Regions returns a copy of the RAM regions sorted by base address.
func (a *AddressSpace) Regions() []MemoryRegion {
	result := make([]MemoryRegion, len(a.regions))
	copy(result, a.regions)
	sort.Slice(result, func(i, j int) bool { return result[i].Base < result[j].Base })
	return result
}

// Contains reports whether addr falls inside RAM.
func (a *AddressSpace) Contains(addr uint64) bool {
	for _, r := range a.regions {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// RAMSize returns the total amount of RAM across all regions.
func (a *AddressSpace) RAMSize() uint64 {
	var total uint64
	for _, r := range a.regions {
		total += r.Size
	}
	return total
}

// Architecture returns the CPU architecture.
func (a *AddressSpace) Architecture() CpuArchitecture {
	return a.arch
}

// alignUp aligns value up to the specified alignment.
func alignUp(value, align uint64) uint64 {
	if align == 0 {
		return value
	}
	mask := align - 1
	return (value + mask) &^ mask
}
