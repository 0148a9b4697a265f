package command

import (
	"fmt"

	"github.com/tinyrange/kdbg/internal/hv"
	"github.com/tinyrange/kdbg/internal/paging"
	"github.com/tinyrange/kdbg/internal/render"
)

// DefaultTopEntries is how many PML4 slots translate-address lists when no
// address is given.
const DefaultTopEntries = 16

var pageLabels = map[paging.PageSize]string{
	paging.PageSize4K: "4KB",
	paging.PageSize2M: "2MB",
	paging.PageSize1G: "1GB",
}

type translateAddress struct{}

func (*translateAddress) Name() string      { return "translate-address" }
func (*translateAddress) Aliases() []string { return []string{"dump-pagetable"} }
func (*translateAddress) Usage() string     { return "translate-address [address]" }
func (*translateAddress) Description() string {
	return "walk the page tables for an address, or list the first PML4 entries"
}

func (c *translateAddress) Invoke(env *Env, args []string) error {
	if err := tooManyArgs(c, args, 1); err != nil {
		return err
	}
	var va uint64
	if len(args) == 1 {
		v, err := parseAddress(c, args[0])
		if err != nil {
			return err
		}
		va = v
	}

	cr3, err := env.Target.ReadControlRegister(hv.RegisterAMD64Cr3)
	if err != nil {
		return fmt.Errorf("read CR3: %w", err)
	}
	pml4 := paging.RootTable(cr3)
	walker := paging.NewWalker(env.Target)
	out := env.Printer

	out.Banner(
		fmt.Sprintf("Page Table Walk (CR3: %#016x)", cr3),
		fmt.Sprintf("PML4 Base: %s", out.Style(render.RoleAddress, pml4.String())),
	)

	if len(args) == 0 {
		c.dumpTop(env, walker, pml4, DefaultTopEntries)
		return out.Err()
	}
	c.walk(env, walker, pml4, paging.VirtAddr(va))
	return out.Err()
}

func (c *translateAddress) walk(env *Env, w *paging.Walker, pml4 paging.PhysAddr, va paging.VirtAddr) {
	out := env.Printer
	idx := va.Indices()

	out.Blank()
	out.Line("Translating virtual address: %s", out.Style(render.RoleAddress, va.String()))
	out.Divider()
	out.Line("Indices: PML4[%d] -> PDPT[%d] -> PD[%d] -> PT[%d] + %#x",
		idx.PML4, idx.PDPT, idx.PD, idx.PT, idx.Offset)
	out.Blank()

	res := w.Translate(pml4, va)
	for _, step := range res.Steps {
		out.Line("%s[%d] @ %s: %#016x", step.Level, step.Index, step.EntryAddr, uint64(step.Entry))
		out.Line("  Flags: [%s]", out.Style(render.RoleFlags, step.Entry.FlagString()))
	}

	switch res.Kind {
	case paging.Unreadable:
		env.logger().Debug("translate: unreadable entry", "level", res.Level, "err", res.Err)
		out.Line("%s", out.Style(render.RoleError, fmt.Sprintf("Error: Cannot read %s entry", res.Level)))
	case paging.NotPresent:
		out.Line("  → %s", out.Style(render.RoleWarn, "Page not present"))
	case paging.Resolved:
		out.Line("  → %s page, physical address: %s",
			pageLabels[res.PageSize], out.Style(render.RoleOK, res.Phys.String()))
	}
}

func (c *translateAddress) dumpTop(env *Env, w *paging.Walker, pml4 paging.PhysAddr, count int) {
	out := env.Printer
	out.Blank()
	out.Line("First %d PML4 entries:", count)
	out.Divider()

	for e := range w.EnumerateTop(pml4, count) {
		if e.Err != nil {
			env.logger().Debug("translate: unreadable PML4 slot", "index", e.Index, "err", e.Err)
			out.Line("PML4[%3d]: %s", e.Index, out.Style(render.RoleError, "Error reading memory"))
			continue
		}
		out.Line("PML4[%3d] @ %s: %#016x [P:%t W:%t U:%t NX:%t]",
			e.Index, e.Addr, uint64(e.Entry),
			e.Entry.Present(), e.Entry.Writable(), e.Entry.User(), e.Entry.NoExecute())
	}
}
