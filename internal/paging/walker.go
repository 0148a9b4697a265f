package paging

import (
	"fmt"
	"iter"

	"github.com/tinyrange/kdbg/internal/hv"
)

// ResultKind says how a translation ended.
type ResultKind uint8

const (
	Resolved ResultKind = iota + 1
	NotPresent
	Unreadable
)

func (k ResultKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case NotPresent:
		return "not present"
	case Unreadable:
		return "unreadable"
	default:
		return fmt.Sprintf("ResultKind(%d)", uint8(k))
	}
}

// Step records one entry read during a walk.
type Step struct {
	Level     Level
	Index     uint16
	EntryAddr PhysAddr
	Entry     Entry
}

// Result is the outcome of translating one virtual address.
//
// Resolved results carry Phys and PageSize. NotPresent and Unreadable
// results carry the Level at which the walk stopped; Unreadable also carries
// the read error. Steps lists every entry that was read, in order.
type Result struct {
	Kind     ResultKind
	Virt     VirtAddr
	Level    Level
	Phys     PhysAddr
	PageSize PageSize
	Err      error

	Steps []Step
}

// Walker resolves addresses through a 4-level x86_64 paging hierarchy held
// in target memory. Every call reads the tables afresh.
type Walker struct {
	mem hv.MemoryReader
}

func NewWalker(mem hv.MemoryReader) *Walker {
	return &Walker{mem: mem}
}

// RootTable returns the PML4 physical address held in a CR3 value.
func RootTable(cr3 uint64) PhysAddr {
	return PhysAddr(cr3 &^ offsetMask)
}

// Translate walks the hierarchy rooted at pml4 for va.
//
// A read failure ends the walk with Unreadable at that level and is not
// retried. A clear present bit ends it with NotPresent and no further reads.
// A PS bit at PDPT or PD level maps a 1 GiB or 2 MiB page directly.
func (w *Walker) Translate(pml4 PhysAddr, va VirtAddr) Result {
	idx := va.Indices()
	res := Result{Virt: va}

	table := pml4
	for level := LevelPML4; level < pageLevels; level++ {
		index := idx.At(level)
		entryAddr := table + PhysAddr(uint64(index)*entrySize)

		raw, err := w.mem.ReadU64(uint64(entryAddr))
		if err != nil {
			res.Kind = Unreadable
			res.Level = level
			res.Err = fmt.Errorf("read %s[%d] at %s: %w", level, index, entryAddr, err)
			return res
		}

		entry := Entry(raw)
		res.Steps = append(res.Steps, Step{
			Level:     level,
			Index:     index,
			EntryAddr: entryAddr,
			Entry:     entry,
		})

		if !entry.Present() {
			res.Kind = NotPresent
			res.Level = level
			return res
		}

		if size, ok := level.hugePageSize(); ok && entry.PageSize() {
			mask := uint64(size) - 1
			res.Kind = Resolved
			res.Level = level
			res.PageSize = size
			res.Phys = PhysAddr(uint64(entry)&^mask | uint64(va)&mask)
			return res
		}

		if level == LevelPT {
			res.Kind = Resolved
			res.Level = level
			res.PageSize = PageSize4K
			res.Phys = entry.TableBase() | PhysAddr(idx.Offset)
			return res
		}

		table = entry.TableBase()
	}

	// The loop always returns at LevelPT.
	panic("unreachable")
}

// TopEntry is one PML4 slot yielded by EnumerateTop. Err is set when the
// slot could not be read; Entry is then zero.
type TopEntry struct {
	Index int
	Addr  PhysAddr
	Entry Entry
	Err   error
}

// EnumerateTop yields the present entries among the first count PML4 slots.
// Slots are read lazily as the sequence is consumed; slots with the present
// bit clear are skipped, unreadable slots are yielded with Err set. The
// sequence is meant to be ranged over once.
func (w *Walker) EnumerateTop(pml4 PhysAddr, count int) iter.Seq[TopEntry] {
	count = max(0, min(count, EntriesPerTable))
	return func(yield func(TopEntry) bool) {
		for i := 0; i < count; i++ {
			addr := pml4 + PhysAddr(uint64(i)*entrySize)
			raw, err := w.mem.ReadU64(uint64(addr))
			if err != nil {
				if !yield(TopEntry{Index: i, Addr: addr, Err: err}) {
					return
				}
				continue
			}
			entry := Entry(raw)
			if !entry.Present() {
				continue
			}
			if !yield(TopEntry{Index: i, Addr: addr, Entry: entry}) {
				return
			}
		}
	}
}
