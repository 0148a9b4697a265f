// Package snapshot stores a target's registers and RAM in a file so it can
// be inspected after the machine is gone.
package snapshot

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tinyrange/kdbg/internal/hv"
)

const (
	// regionAlign is the file alignment of raw region data, so it can be
	// mapped directly.
	regionAlign = 0x1000

	flagCompressed uint32 = 1 << 0
)

// Encoding of a region's data in the file.
const (
	encodingRaw  uint32 = 0
	encodingGzip uint32 = 1
)

// Info describes where a snapshot came from.
type Info struct {
	Source      string
	QEMUVersion string
	Captured    time.Time
	Physical    bool
}

// Region is a captured range of target memory. Data is read from offset 0
// to Size.
type Region struct {
	Base uint64
	Size uint64
	Data io.ReaderAt
}

func (r Region) End() uint64 { return r.Base + r.Size }

// Snapshot is the in-memory form of a snapshot file.
type Snapshot struct {
	Arch      hv.CpuArchitecture
	Info      Info
	Registers hv.RegisterSet
	Regions   []Region
}

// validate checks that regions are sorted-able and do not overlap.
func (s *Snapshot) validate() error {
	regions := make([]Region, len(s.Regions))
	copy(regions, s.Regions)
	sort.Slice(regions, func(i, j int) bool { return regions[i].Base < regions[j].Base })
	for i, r := range regions {
		if r.Size == 0 {
			return fmt.Errorf("region at %#x is empty", r.Base)
		}
		if r.End() < r.Base {
			return fmt.Errorf("region at %#x wraps the address space", r.Base)
		}
		if i > 0 && regions[i-1].End() > r.Base {
			return fmt.Errorf("region at %#x overlaps region at %#x", r.Base, regions[i-1].Base)
		}
		if r.Data == nil {
			return fmt.Errorf("region at %#x has no data", r.Base)
		}
	}
	return nil
}

// register kinds in the register block.
const (
	regKind64 uint8 = 0
	regKindDT uint8 = 1
)

// registerOrder fixes the order registers are written in.
var registerOrder = []hv.Register{
	hv.RegisterAMD64Cr0,
	hv.RegisterAMD64Cr2,
	hv.RegisterAMD64Cr3,
	hv.RegisterAMD64Cr4,
	hv.RegisterAMD64Efer,
	hv.RegisterAMD64Gdtr,
	hv.RegisterAMD64Idtr,
}
