package paging

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/tinyrange/kdbg/internal/hv"
	"github.com/tinyrange/kdbg/internal/hv/hvtest"
)

const (
	p  = uint64(FlagPresent)
	rw = uint64(FlagWritable)
	us = uint64(FlagUser)
	ps = uint64(FlagPageSize)
	nx = uint64(FlagNoExecute)
)

func newWalker() (*Walker, *hvtest.Memory) {
	mem := hvtest.NewMemory()
	return NewWalker(hv.Memory{R: mem}), mem
}

func TestIndicesReassemble(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	addrs := []uint64{0, 0xabc, 0x0000_7fff_ffff_ffff, 0xffff_8000_0000_0000, 0xffff_ffff_ffff_ffff}
	for range 1000 {
		addrs = append(addrs, rng.Uint64())
	}

	for _, v := range addrs {
		idx := VirtAddr(v).Indices()
		if uint64(idx.Offset) != v&0xfff {
			t.Fatalf("%#x: offset = %#x", v, idx.Offset)
		}
		if got, want := uint64(idx.Addr()), v&(1<<48-1); got != want {
			t.Fatalf("%#x: reassembled %#x, want %#x", v, got, want)
		}
		for _, i := range []uint16{idx.PML4, idx.PDPT, idx.PD, idx.PT} {
			if i > 0x1ff {
				t.Fatalf("%#x: index %#x out of range", v, i)
			}
		}
	}
}

func TestIndicesKnownAddress(t *testing.T) {
	got := VirtAddr(0xffff_8000_0020_3abc).Indices()
	want := Indices{PML4: 256, PDPT: 0, PD: 1, PT: 3, Offset: 0xabc}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Indices mismatch (-want +got):\n%s", diff)
	}
}

func TestCanonical(t *testing.T) {
	if got := Canonical(0x0000_8000_0000_0000); got != 0xffff_8000_0000_0000 {
		t.Fatalf("Canonical = %s", got)
	}
	if got := Canonical(0x0000_7fff_ffff_f000); got != 0x0000_7fff_ffff_f000 {
		t.Fatalf("Canonical = %s", got)
	}
	if got := Canonical(0x1234_ffff_8000_0010); got != 0xffff_ffff_8000_0010 {
		t.Fatalf("Canonical = %s", got)
	}
	if got := Canonical(0xffff_0000_0000_1000); got != 0x0000_0000_0000_1000 {
		t.Fatalf("Canonical = %s", got)
	}
	if IsCanonical(0x0000_8000_0000_0000) {
		t.Fatalf("non-canonical address reported canonical")
	}
	if !IsCanonical(0xffff_8000_0000_0000) {
		t.Fatalf("canonical address reported non-canonical")
	}
}

func TestAddrStringWidth(t *testing.T) {
	for _, tc := range []struct {
		got, want string
	}{
		{PhysAddr(0x1018).String(), "0x0000000000001018"},
		{VirtAddr(0xffff_8000_0000_0000).String(), "0xffff800000000000"},
		{PhysAddr(0).String(), "0x0000000000000000"},
	} {
		if tc.got != tc.want {
			t.Fatalf("String() = %q, want %q", tc.got, tc.want)
		}
		if len(tc.got) != 18 {
			t.Fatalf("String() = %q is %d characters, want 18", tc.got, len(tc.got))
		}
	}
}

func TestTranslate4K(t *testing.T) {
	w, mem := newWalker()
	va := VirtAddr(0x0000_0040_2060_1234)
	idx := va.Indices()

	mem.WriteU64(0x1000+uint64(idx.PML4)*8, 0x2000|p|rw)
	mem.WriteU64(0x2000+uint64(idx.PDPT)*8, 0x3000|p|rw)
	mem.WriteU64(0x3000+uint64(idx.PD)*8, 0x4000|p|rw|us)
	mem.WriteU64(0x4000+uint64(idx.PT)*8, 0x0000_0000_7654_3000|p|rw)

	got := w.Translate(0x1000, va)
	want := Result{
		Kind:     Resolved,
		Virt:     va,
		Level:    LevelPT,
		Phys:     0x7654_3234,
		PageSize: PageSize4K,
		Steps: []Step{
			{LevelPML4, idx.PML4, PhysAddr(0x1000 + uint64(idx.PML4)*8), Entry(0x2000 | p | rw)},
			{LevelPDPT, idx.PDPT, PhysAddr(0x2000 + uint64(idx.PDPT)*8), Entry(0x3000 | p | rw)},
			{LevelPD, idx.PD, PhysAddr(0x3000 + uint64(idx.PD)*8), Entry(0x4000 | p | rw | us)},
			{LevelPT, idx.PT, PhysAddr(0x4000 + uint64(idx.PT)*8), Entry(0x7654_3000 | p | rw)},
		},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Result{}, "Err")); diff != "" {
		t.Fatalf("Translate mismatch (-want +got):\n%s", diff)
	}
	if mem.Reads != 4 {
		t.Fatalf("expected 4 reads, got %d", mem.Reads)
	}
}

func TestTranslateHugePageLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for range 200 {
		va := VirtAddr(rng.Uint64() & (1<<48 - 1))
		idx := va.Indices()

		// 1 GiB page at PDPT level.
		w, mem := newWalker()
		pdpte := rng.Uint64() | p | ps
		mem.WriteU64(0x1000+uint64(idx.PML4)*8, 0x2000|p)
		mem.WriteU64(0x2000+uint64(idx.PDPT)*8, pdpte)
		res := w.Translate(0x1000, va)
		if res.Kind != Resolved || res.PageSize != PageSize1G || res.Level != LevelPDPT {
			t.Fatalf("1G: unexpected result %+v", res)
		}
		if want := PhysAddr(pdpte&^0x3FFFFFFF | uint64(va)&0x3FFFFFFF); res.Phys != want {
			t.Fatalf("1G: phys %s, want %s", res.Phys, want)
		}

		// 2 MiB page at PD level.
		w, mem = newWalker()
		pde := rng.Uint64() | p | ps
		mem.WriteU64(0x1000+uint64(idx.PML4)*8, 0x2000|p)
		mem.WriteU64(0x2000+uint64(idx.PDPT)*8, 0x3000|p)
		mem.WriteU64(0x3000+uint64(idx.PD)*8, pde)
		res = w.Translate(0x1000, va)
		if res.Kind != Resolved || res.PageSize != PageSize2M || res.Level != LevelPD {
			t.Fatalf("2M: unexpected result %+v", res)
		}
		if want := PhysAddr(pde&^0x1FFFFF | uint64(va)&0x1FFFFF); res.Phys != want {
			t.Fatalf("2M: phys %s, want %s", res.Phys, want)
		}
	}
}

func TestTranslatePSBitIgnoredAtPML4AndPT(t *testing.T) {
	w, mem := newWalker()
	mem.WriteU64(0x1000, 0x2000|p|ps)
	mem.WriteU64(0x2000, 0x3000|p)
	mem.WriteU64(0x3000, 0x4000|p)
	mem.WriteU64(0x4000, 0x5000|p|ps)

	res := w.Translate(0x1000, 0x123)
	if res.Kind != Resolved || res.PageSize != PageSize4K || res.Phys != 0x5123 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTranslateNotPresentShortCircuit(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(mem *hvtest.Memory)
		level Level
		reads int
	}{
		{"pml4", func(mem *hvtest.Memory) {}, LevelPML4, 1},
		{"pdpt", func(mem *hvtest.Memory) {
			mem.WriteU64(0x1000, 0x2000|p)
		}, LevelPDPT, 2},
		{"pd", func(mem *hvtest.Memory) {
			mem.WriteU64(0x1000, 0x2000|p)
			mem.WriteU64(0x2000, 0x3000|p)
			mem.WriteU64(0x3000, 0x4000|rw) // present bit clear
		}, LevelPD, 3},
		{"pt", func(mem *hvtest.Memory) {
			mem.WriteU64(0x1000, 0x2000|p)
			mem.WriteU64(0x2000, 0x3000|p)
			mem.WriteU64(0x3000, 0x4000|p)
		}, LevelPT, 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w, mem := newWalker()
			tc.setup(mem)
			res := w.Translate(0x1000, 0x10)
			if res.Kind != NotPresent {
				t.Fatalf("expected NotPresent, got %v", res.Kind)
			}
			if res.Level != tc.level {
				t.Fatalf("expected level %v, got %v", tc.level, res.Level)
			}
			if mem.Reads != tc.reads {
				t.Fatalf("expected %d reads, got %d", tc.reads, mem.Reads)
			}
			if res.Err != nil {
				t.Fatalf("NotPresent must not carry an error: %v", res.Err)
			}
		})
	}
}

func TestTranslateUnreadable(t *testing.T) {
	w, mem := newWalker()
	mem.WriteU64(0x1000, 0x0000_00ff_0000_0000|p)
	mem.Fail(0x0000_00ff_0000_0000)

	res := w.Translate(0x1000, 0x10)
	if res.Kind != Unreadable || res.Level != LevelPDPT {
		t.Fatalf("unexpected result %+v", res)
	}
	if !errors.Is(res.Err, hv.ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", res.Err)
	}
	if len(res.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(res.Steps))
	}
	if mem.Reads != 2 {
		t.Fatalf("expected 2 reads (no retry), got %d", mem.Reads)
	}
}

func TestTranslateGigabytePageScenario(t *testing.T) {
	w, mem := newWalker()
	const (
		pml4e = uint64(0x0000000000002003)
		pdpte = uint64(0x0000000000003087)
		va    = uint64(0x0000000000000ABC)
	)
	mem.WriteU64(0x1000, pml4e)
	mem.WriteU64(0x2000, pdpte)

	res := w.Translate(RootTable(0x1000), VirtAddr(va))
	want := PhysAddr((pdpte &^ 0x3FFFFFFF) | (va & 0x3FFFFFFF))
	if res.Kind != Resolved || res.PageSize != PageSize1G {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Phys != want {
		t.Fatalf("phys %s, want %s", res.Phys, want)
	}
	if !res.Steps[0].Entry.Writable() || !res.Steps[1].Entry.PageSize() {
		t.Fatalf("unexpected decoded steps %+v", res.Steps)
	}
}

func TestTranslateDoesNotCheckCanonical(t *testing.T) {
	w, mem := newWalker()
	// Bits 48-63 are garbage; only the low 48 bits select entries.
	va := VirtAddr(0x1234_0000_0000_0042)
	mem.WriteU64(0x1000, 0x2000|p)
	mem.WriteU64(0x2000, 0x3000|p)
	mem.WriteU64(0x3000, 0x4000|p)
	mem.WriteU64(0x4000, 0x9000|p)

	res := w.Translate(0x1000, va)
	if res.Kind != Resolved || res.Phys != 0x9042 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRootTable(t *testing.T) {
	if got := RootTable(0x0000_0000_0010_1018); got != 0x101000 {
		t.Fatalf("RootTable = %s", got)
	}
}

func TestEnumerateTop(t *testing.T) {
	w, mem := newWalker()
	mem.WriteU64(0x1000+0*8, 0x2000|p|rw)
	mem.WriteU64(0x1000+3*8, 0x5000|rw) // not present
	mem.WriteU64(0x1000+7*8, 0x6000|p|nx)

	var got []TopEntry
	for e := range w.EnumerateTop(0x1000, 16) {
		got = append(got, e)
	}
	want := []TopEntry{
		{Index: 0, Addr: 0x1000, Entry: Entry(0x2000 | p | rw)},
		{Index: 7, Addr: 0x1038, Entry: Entry(0x6000 | p | nx)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("EnumerateTop mismatch (-want +got):\n%s", diff)
	}
	if mem.Reads != 16 {
		t.Fatalf("expected 16 reads, got %d", mem.Reads)
	}
}

func TestEnumerateTopIsLazy(t *testing.T) {
	w, mem := newWalker()
	mem.WriteU64(0x1000+2*8, 0x2000|p)

	seq := w.EnumerateTop(0x1000, 16)
	if mem.Reads != 0 {
		t.Fatalf("sequence read memory before being consumed")
	}
	for e := range seq {
		if e.Index != 2 {
			t.Fatalf("unexpected first entry %+v", e)
		}
		break
	}
	if mem.Reads != 3 {
		t.Fatalf("expected 3 reads before stopping, got %d", mem.Reads)
	}
}

func TestEnumerateTopUnreadableSlotContinues(t *testing.T) {
	w, mem := newWalker()
	mem.Fail(0x1000)
	mem.WriteU64(0x2000, 0x3000|p)

	var got []TopEntry
	for e := range w.EnumerateTop(0x1000, 2) {
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 error entries, got %d", len(got))
	}
	for _, e := range got {
		if !errors.Is(e.Err, hv.ErrUnreadable) {
			t.Fatalf("expected unreadable slot, got %+v", e)
		}
	}
}

func TestEnumerateTopClampsCount(t *testing.T) {
	w, mem := newWalker()
	for range w.EnumerateTop(0x1000, 4096) {
	}
	if mem.Reads != EntriesPerTable {
		t.Fatalf("expected %d reads, got %d", EntriesPerTable, mem.Reads)
	}
}
