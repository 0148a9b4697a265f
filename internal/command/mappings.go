package command

import (
	"fmt"

	"github.com/docker/go-units"

	"github.com/tinyrange/kdbg/internal/hv"
	"github.com/tinyrange/kdbg/internal/paging"
	"github.com/tinyrange/kdbg/internal/render"
)

type dumpMappings struct{}

func (*dumpMappings) Name() string        { return "dump-mappings" }
func (*dumpMappings) Aliases() []string   { return []string{"info-mem"} }
func (*dumpMappings) Usage() string       { return "dump-mappings" }
func (*dumpMappings) Description() string { return "list every mapped virtual range" }

func (c *dumpMappings) Invoke(env *Env, args []string) error {
	if err := tooManyArgs(c, args, 0); err != nil {
		return err
	}
	cr3, err := env.Target.ReadControlRegister(hv.RegisterAMD64Cr3)
	if err != nil {
		return fmt.Errorf("read CR3: %w", err)
	}
	pml4 := paging.RootTable(cr3)
	out := env.Printer

	out.Banner(fmt.Sprintf("Virtual Memory Mappings (CR3: %#016x)", cr3))

	rows := [][]string{{"VIRTUAL", "PHYSICAL", "SIZE", "PAGE", "PERM"}}
	var (
		total  uint64
		ranges int
	)
	for m := range paging.NewWalker(env.Target).Mappings(pml4) {
		if m.Err != nil {
			env.logger().Debug("mappings: unreadable table", "level", m.Level, "err", m.Err)
			rows = append(rows, []string{
				m.Virt.String(),
				out.Style(render.RoleError, fmt.Sprintf("Error reading %s table", m.Level)),
			})
			continue
		}
		total += m.Size
		ranges++
		rows = append(rows, []string{
			out.Style(render.RoleAddress, fmt.Sprintf("%s-%s", m.Virt, m.End())),
			m.Phys.String(),
			units.BytesSize(float64(m.Size)),
			m.PageSize.String(),
			out.Style(render.RoleFlags, permString(m)),
		})
	}

	out.Columns(rows)
	out.Divider()
	out.Line("%d ranges, %s mapped", ranges, units.BytesSize(float64(total)))
	return out.Err()
}

// permString renders user/read/write/execute like QEMU's "info mem".
func permString(m paging.Mapping) string {
	b := []byte("-r--")
	if m.User {
		b[0] = 'u'
	}
	if m.Writable {
		b[2] = 'w'
	}
	if !m.NoExecute {
		b[3] = 'x'
	}
	return string(b)
}
