package paging

import (
	"encoding/binary"
	"fmt"
	"iter"
)

// Mapping is a contiguous range of mapped virtual memory. Writable and User
// hold only when every level grants them; NoExecute holds when any level
// sets NX. A Mapping with Err set reports a table that could not be read;
// Virt is then the first address that table would have covered.
type Mapping struct {
	Virt      VirtAddr
	Phys      PhysAddr
	Size      uint64
	PageSize  PageSize
	Writable  bool
	User      bool
	NoExecute bool

	Level Level
	Err   error
}

// End returns the first virtual address after the mapping.
func (m Mapping) End() VirtAddr { return m.Virt + VirtAddr(m.Size) }

func (m Mapping) sameAttrs(o Mapping) bool {
	return m.PageSize == o.PageSize &&
		m.Writable == o.Writable &&
		m.User == o.User &&
		m.NoExecute == o.NoExecute
}

// continues reports whether next starts where m ends, both virtually and
// physically, with the same attributes.
func (m Mapping) continues(next Mapping) bool {
	return m.Err == nil && next.Err == nil &&
		m.sameAttrs(next) &&
		m.End() == next.Virt &&
		m.Phys+PhysAddr(m.Size) == next.Phys
}

type perms struct {
	writable, user, noExec bool
}

func (p perms) apply(e Entry) perms {
	return perms{
		writable: p.writable && e.Writable(),
		user:     p.user && e.User(),
		noExec:   p.noExec || e.NoExecute(),
	}
}

// Mappings walks the whole hierarchy rooted at pml4 and yields every mapped
// range in ascending virtual order, merging neighbours that continue each
// other. Each table is read with a single 4 KiB read. Unlike Translate it
// reports frames using the architectural bits 12-51. Virtual addresses of
// upper-half slots are sign-extended.
func (w *Walker) Mappings(pml4 PhysAddr) iter.Seq[Mapping] {
	return func(yield func(Mapping) bool) {
		var (
			pending Mapping
			have    bool
		)
		emit := func(m Mapping) bool {
			if have && pending.continues(m) {
				pending.Size += m.Size
				return true
			}
			if have && !yield(pending) {
				return false
			}
			pending, have = m, true
			return true
		}

		if !w.walkTable(pml4, LevelPML4, 0, perms{writable: true, user: true}, emit) {
			return
		}
		if have {
			yield(pending)
		}
	}
}

func (w *Walker) walkTable(table PhysAddr, level Level, base uint64, p perms, emit func(Mapping) bool) bool {
	raw, err := w.mem.ReadBytes(uint64(table), EntriesPerTable*entrySize)
	if err != nil {
		return emit(Mapping{
			Virt:  Canonical(VirtAddr(base)),
			Level: level,
			Err:   fmt.Errorf("read %s table at %s: %w", level, table, err),
		})
	}

	for i := 0; i < EntriesPerTable; i++ {
		entry := Entry(binary.LittleEndian.Uint64(raw[i*entrySize:]))
		if !entry.Present() {
			continue
		}
		va := base | uint64(i)<<pageLevelShifts[level]
		ep := p.apply(entry)

		size, huge := level.hugePageSize()
		switch {
		case huge && entry.PageSize():
			mask := uint64(size) - 1
			if !emit(ep.mapping(va, PhysAddr(uint64(entry.Frame())&^mask), size, level)) {
				return false
			}
		case level == LevelPT:
			if !emit(ep.mapping(va, entry.Frame(), PageSize4K, level)) {
				return false
			}
		default:
			if !w.walkTable(entry.Frame(), level+1, va, ep, emit) {
				return false
			}
		}
	}
	return true
}

func (p perms) mapping(va uint64, phys PhysAddr, size PageSize, level Level) Mapping {
	return Mapping{
		Virt:      Canonical(VirtAddr(va)),
		Phys:      phys,
		Size:      uint64(size),
		PageSize:  size,
		Writable:  p.writable,
		User:      p.user,
		NoExecute: p.noExec,
		Level:     level,
	}
}
