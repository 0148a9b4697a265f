package command

import (
	"fmt"

	"github.com/tinyrange/kdbg/internal/desctable"
	"github.com/tinyrange/kdbg/internal/hv"
	"github.com/tinyrange/kdbg/internal/render"
)

const (
	DefaultGateCount    = 256
	DefaultSegmentCount = 16
)

type dumpInterruptTable struct{}

func (*dumpInterruptTable) Name() string        { return "dump-interrupt-table" }
func (*dumpInterruptTable) Aliases() []string   { return []string{"dump-idt"} }
func (*dumpInterruptTable) Usage() string       { return "dump-interrupt-table [count]" }
func (*dumpInterruptTable) Description() string { return "list present IDT gates" }

func (c *dumpInterruptTable) Invoke(env *Env, args []string) error {
	count, err := parseCount(c, args, DefaultGateCount)
	if err != nil {
		return err
	}
	idtr, err := env.Target.ReadDescriptorTableRegister(hv.RegisterAMD64Idtr)
	if err != nil {
		return fmt.Errorf("read IDTR: %w", err)
	}

	n := desctable.EntryCount(count, idtr.Limit, desctable.GateSize)
	out := env.Printer
	tableHeader(out, "Interrupt Descriptor Table (IDT)", idtr, n)

	for i := range n {
		g, err := desctable.DecodeGate(env.Target, idtr.Base, i)
		if err != nil {
			env.logger().Debug("idt: unreadable gate", "index", i, "err", err)
			out.Line("IDT[%3d]: %s", i, out.Style(render.RoleError, "Error reading memory"))
			continue
		}
		if g.Unused() {
			continue
		}
		line := fmt.Sprintf("IDT[%3d]: %s (Selector: %#04x, Type: %s, DPL: %d, IST: %d, P: %t)",
			i, out.Style(render.RoleAddress, fmt.Sprintf("%#016x", g.Offset)),
			g.Selector, g.Type, g.DPL, g.IST, g.Present)
		if name := desctable.VectorName(i); name != "" {
			line += "  " + out.Style(render.RoleMuted, name)
		}
		out.Line("%s", line)
	}
	return out.Err()
}

type dumpSegmentTable struct{}

func (*dumpSegmentTable) Name() string        { return "dump-segment-table" }
func (*dumpSegmentTable) Aliases() []string   { return []string{"dump-gdt"} }
func (*dumpSegmentTable) Usage() string       { return "dump-segment-table [count]" }
func (*dumpSegmentTable) Description() string { return "list present GDT descriptors" }

func (c *dumpSegmentTable) Invoke(env *Env, args []string) error {
	count, err := parseCount(c, args, DefaultSegmentCount)
	if err != nil {
		return err
	}
	gdtr, err := env.Target.ReadDescriptorTableRegister(hv.RegisterAMD64Gdtr)
	if err != nil {
		return fmt.Errorf("read GDTR: %w", err)
	}

	n := desctable.EntryCount(count, gdtr.Limit, desctable.SegmentSize)
	out := env.Printer
	tableHeader(out, "Global Descriptor Table (GDT)", gdtr, n)

	for i := 0; i < n; i++ {
		s, err := desctable.DecodeSegment(env.Target, gdtr.Base, i)
		if err != nil {
			env.logger().Debug("gdt: unreadable descriptor", "index", i, "err", err)
			out.Line("GDT[%3d]: %s", i, out.Style(render.RoleError, "Error reading memory"))
			continue
		}
		if s.Raw == 0 {
			if s.IsNull(i) {
				out.Line("GDT[%3d]: %s", i, out.Style(render.RoleMuted, "NULL descriptor"))
			}
			continue
		}
		if !s.Present {
			continue
		}
		out.Line("GDT[%3d]: %#016x (DPL: %d, Type: %#x, P: %t)  %s",
			i, s.Raw, s.DPL, s.SegmentType, s.Present, out.Style(render.RoleMuted, s.TypeName()))

		// The upper half of a 16-byte system descriptor occupies the next
		// slot and is not a descriptor of its own.
		if s.Wide() && i+1 < n {
			i++
			upper, err := env.Target.ReadU64(gdtr.Base + uint64(i)*desctable.SegmentSize)
			if err != nil {
				env.logger().Debug("gdt: unreadable descriptor", "index", i, "err", err)
				out.Line("GDT[%3d]: %s", i, out.Style(render.RoleError, "Error reading memory"))
				continue
			}
			out.Line("  → base: %s, limit: %#x",
				out.Style(render.RoleAddress, fmt.Sprintf("%#016x", s.WideBase(upper))), s.Limit())
		}
	}
	return out.Err()
}

func tableHeader(out *render.Printer, title string, dt hv.DescriptorTable, n int) {
	out.Banner(title,
		fmt.Sprintf("Base: %#016x, Limit: %#04x", dt.Base, dt.Limit),
		fmt.Sprintf("Max entries: %d", n),
	)
}
