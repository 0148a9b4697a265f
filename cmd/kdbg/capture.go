package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/docker/go-units"
	"github.com/google/subcommands"
	"github.com/schollz/progressbar/v3"

	"github.com/tinyrange/kdbg/internal/config"
	"github.com/tinyrange/kdbg/internal/gdbremote"
	"github.com/tinyrange/kdbg/internal/hv"
	"github.com/tinyrange/kdbg/internal/snapshot"
)

// captureCmd copies registers and guest RAM from a gdbstub into a snapshot
// file that can later be opened with -target snapshot:path.
type captureCmd struct {
	output   string
	ram      string
	pciHole  string
	chunk    string
	compress bool
	quiet    bool
}

// Name implements subcommands.Command.
func (*captureCmd) Name() string { return "capture" }

// Synopsis implements subcommands.Command.
func (*captureCmd) Synopsis() string { return "save registers and guest RAM to a snapshot file" }

// Usage implements subcommands.Command.
func (*captureCmd) Usage() string {
	return `capture [flags] <output>
  Requires a gdb:// target whose stub can read physical memory.
`
}

// SetFlags implements subcommands.Command.
func (c *captureCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ram, "ram", "", "guest RAM size, e.g. 2GiB (default from config)")
	f.StringVar(&c.pciHole, "pci-hole", "", "start of the PCI hole below 4 GiB (default from config)")
	f.StringVar(&c.chunk, "chunk", "64KiB", "size of each memory read")
	f.BoolVar(&c.compress, "compress", false, "gzip region data (default from config)")
	f.BoolVar(&c.quiet, "q", false, "do not show a progress bar")
}

// Execute implements subcommands.Command.
func (c *captureCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	c.output = f.Arg(0)
	a := args[0].(*app)

	if err := c.run(ctx, a); err != nil {
		a.report(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *captureCmd) layout(cfg config.Config) (*hv.AddressSpace, error) {
	if c.ram != "" {
		cfg.Capture.RAM = c.ram
	}
	if c.pciHole != "" {
		cfg.Capture.PCIHole = c.pciHole
	}
	ram, err := cfg.RAMBytes()
	if err != nil {
		return nil, err
	}
	hole, err := cfg.PCIHoleStart()
	if err != nil {
		return nil, err
	}
	return hv.X86AddressSpace(ram, hole), nil
}

func (c *captureCmd) run(ctx context.Context, a *app) error {
	spec, err := config.ParseTarget(a.cfg.Target)
	if err != nil {
		return err
	}
	if spec.Kind != config.TargetGDB {
		return fmt.Errorf("capture needs a gdb:// target, not %s", spec)
	}
	space, err := c.layout(a.cfg)
	if err != nil {
		return err
	}
	chunk, err := units.RAMInBytes(c.chunk)
	if err != nil || chunk <= 0 {
		return fmt.Errorf("invalid -chunk %q", c.chunk)
	}

	mode := gdbremote.PhysicalMode(a.cfg.GDB.Physical)
	if mode == gdbremote.PhysicalOff {
		mode = gdbremote.PhysicalOn
	}
	t, err := a.openGDB(ctx, spec.Addr, mode)
	if err != nil {
		return fmt.Errorf("open target %s: %w", spec, err)
	}
	defer t.Close()
	if !t.Physical() {
		return fmt.Errorf("capture: %w", gdbremote.ErrPhysicalUnsupported)
	}

	info := snapshot.Info{Source: spec.String(), Captured: time.Now().UTC(), Physical: true}
	if v, err := t.Version(); err == nil {
		info.QEMUVersion = v
	}

	opts := snapshot.CaptureOptions{ChunkSize: int(chunk), Info: info, Logger: a.log}
	if !c.quiet {
		bar := progressbar.DefaultBytes(int64(space.RAMSize()), "capturing")
		defer bar.Finish()
		opts.Progress = func(n int64) { bar.Add64(n) }
	}

	a.log.Info("capturing", "target", spec.String(), "ram", units.BytesSize(float64(space.RAMSize())))
	snap, err := snapshot.Capture(t, space, opts)
	if err != nil {
		return err
	}

	if err := snapshot.Save(c.output, snap, snapshot.SaveOptions{Compress: c.compress || a.cfg.Capture.Compress}); err != nil {
		return fmt.Errorf("save %s: %w", c.output, err)
	}
	attrs := []any{"path", c.output, "regions", len(snap.Regions)}
	if fi, err := os.Stat(c.output); err == nil {
		attrs = append(attrs, "size", units.BytesSize(float64(fi.Size())))
	}
	a.log.Info("snapshot written", attrs...)
	return nil
}
