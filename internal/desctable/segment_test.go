package desctable

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyrange/kdbg/internal/hv"
	"github.com/tinyrange/kdbg/internal/hv/hvtest"
)

const tssBase = 0xffff_8000_0012_3450

// kernelGDT lays out null, ring 0 code and data, and a 16-byte TSS.
func kernelGDT(mem *hvtest.Memory, base uint64) {
	mem.WriteU64(base+0*8, 0)
	mem.WriteU64(base+1*8, 0x00A0_9A00_0000_0000)
	mem.WriteU64(base+2*8, 0x0000_9200_0000_0000)

	low := uint64(0x67) |
		(tssBase&0xFFFFFF)<<16 |
		uint64(0x89)<<40 |
		(tssBase>>24&0xFF)<<56
	mem.WriteU64(base+3*8, low)
	mem.WriteU64(base+4*8, tssBase>>32)
}

func TestParseSegmentFields(t *testing.T) {
	got := ParseSegment(0x00A0_9A00_0000_0000)
	want := Segment{
		Raw:            0x00A0_9A00_0000_0000,
		Present:        true,
		DPL:            0,
		DescriptorType: true,
		SegmentType:    0xA,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("segment mismatch (-want +got):\n%s", diff)
	}
	if !got.Long() || got.DefaultSize() || !got.Code() {
		t.Fatalf("code segment flags wrong: long=%v db=%v code=%v", got.Long(), got.DefaultSize(), got.Code())
	}
}

func TestParseSegmentDPL(t *testing.T) {
	s := ParseSegment(0x00AF_FB00_0000_FFFF)
	if s.DPL != 3 || !s.Present {
		t.Fatalf("user code: %+v", s)
	}
	if s.Limit() != 0xFFFFF || !s.Granularity() {
		t.Fatalf("limit = %#x granularity = %v", s.Limit(), s.Granularity())
	}
}

func TestNullDescriptor(t *testing.T) {
	s := ParseSegment(0)
	if !s.IsNull(0) {
		t.Fatal("zero slot 0 should be the null descriptor")
	}
	if s.IsNull(5) {
		t.Fatal("zero slot 5 is not the null descriptor")
	}
	if ParseSegment(1).IsNull(0) {
		t.Fatal("non-zero slot 0 is not the null descriptor")
	}
}

func TestKernelGDT(t *testing.T) {
	mem := hvtest.NewMemory()
	const base = 0x9000
	kernelGDT(mem, base)
	r := hv.Memory{R: mem}

	// limit 39 covers five slots.
	if n := EntryCount(16, 39, SegmentSize); n != 5 {
		t.Fatalf("EntryCount = %d, want 5", n)
	}

	var segs []Segment
	for i := range 5 {
		s, err := DecodeSegment(r, base, i)
		if err != nil {
			t.Fatalf("DecodeSegment(%d): %v", i, err)
		}
		segs = append(segs, s)
	}

	if !segs[0].IsNull(0) {
		t.Fatalf("slot 0: %+v", segs[0])
	}
	if got := segs[1].TypeName(); got != "Code RX 64-bit" {
		t.Fatalf("slot 1 type = %q", got)
	}
	if got := segs[2].TypeName(); got != "Data RW" {
		t.Fatalf("slot 2 type = %q", got)
	}

	tss := segs[3]
	if !tss.Present || !tss.IsSystem() || tss.SegmentType != 0x9 || !tss.Wide() {
		t.Fatalf("slot 3: %+v", tss)
	}
	if got := tss.TypeName(); got != "TSS (available)" {
		t.Fatalf("slot 3 type = %q", got)
	}
	if got := tss.WideBase(segs[4].Raw); got != tssBase {
		t.Fatalf("TSS base = %#x, want %#x", got, uint64(tssBase))
	}
	if tss.Limit() != 0x67 {
		t.Fatalf("TSS limit = %#x", tss.Limit())
	}
}

func TestSegmentBase(t *testing.T) {
	s := ParseSegment(0xAB00_92CD_EF01_FFFF)
	if got := s.Base(); got != 0xABCDEF01 {
		t.Fatalf("Base = %#x", got)
	}
}

func TestDecodeSegmentUnreadable(t *testing.T) {
	mem := hvtest.NewMemory()
	mem.Fail(0x9000)
	_, err := DecodeSegment(hv.Memory{R: mem}, 0x9000, 1)
	if !errors.Is(err, hv.ErrUnreadable) {
		t.Fatalf("err = %v, want ErrUnreadable", err)
	}
}
