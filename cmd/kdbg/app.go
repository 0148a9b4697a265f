package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tinyrange/kdbg/internal/command"
	"github.com/tinyrange/kdbg/internal/config"
	"github.com/tinyrange/kdbg/internal/gdbremote"
	"github.com/tinyrange/kdbg/internal/hv"
	"github.com/tinyrange/kdbg/internal/readlog"
	"github.com/tinyrange/kdbg/internal/render"
	"github.com/tinyrange/kdbg/internal/snapshot"
)

// app holds the global flags and the state shared by every subcommand.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	configPath string
	target     string
	color      string
	trace      string
	physical   string
	verbose    bool

	cfg config.Config
	log *slog.Logger
	reg *command.Registry
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr}
}

func (a *app) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&a.configPath, "config", "", "configuration file (default ./"+config.Filename+" if present)")
	fs.StringVar(&a.target, "target", "", "gdb://host:port or snapshot:path")
	fs.StringVar(&a.color, "color", "", "colour output: auto, always or never")
	fs.StringVar(&a.trace, "trace", "", "record every target read to this file")
	fs.StringVar(&a.physical, "physical", "", "gdbstub physical memory mode: off, on or auto")
	fs.BoolVar(&a.verbose, "v", false, "enable debug logging")
}

// setup loads the configuration and applies flag overrides.
func (a *app) setup(fs *flag.FlagSet) error {
	path, optional := a.configPath, false
	if path == "" {
		path, optional = config.Filename, true
	}
	cfg, err := config.Load(path, optional)
	if err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "target":
			cfg.Target = a.target
		case "color":
			cfg.Color = a.color
		case "trace":
			cfg.Trace = a.trace
		case "physical":
			cfg.GDB.Physical = a.physical
		case "v":
			if a.verbose {
				cfg.LogLevel = "debug"
			}
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := render.ParseColorMode(cfg.Color); err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := cfg.Level()
	a.log = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) printer() *render.Printer {
	mode, _ := render.ParseColorMode(a.cfg.Color)
	return render.New(a.stdout, mode)
}

// openTarget opens the configured target, wrapped in a read trace when
// one is configured. The returned target must be closed.
func (a *app) openTarget(ctx context.Context) (hv.Target, error) {
	spec, err := config.ParseTarget(a.cfg.Target)
	if err != nil {
		return nil, err
	}

	var t hv.Target
	switch spec.Kind {
	case config.TargetSnapshot:
		f, err := snapshot.Open(spec.Path)
		if err != nil {
			return nil, err
		}
		a.log.Debug("opened snapshot", "path", spec.Path, "regions", len(f.Regions()))
		t = f
	default:
		g, err := a.openGDB(ctx, spec.Addr, gdbremote.PhysicalMode(a.cfg.GDB.Physical))
		if err != nil {
			return nil, err
		}
		t = g
	}

	if a.cfg.Trace == "" {
		return t, nil
	}
	rl, err := readlog.Create(a.cfg.Trace)
	if err != nil {
		t.Close()
		return nil, err
	}
	warned := false
	traced := readlog.Wrap(t, rl, func(err error) {
		if !warned {
			a.log.Warn("read trace failed", "path", a.cfg.Trace, "err", err)
			warned = true
		}
	})
	return &tracedTarget{Target: traced, log: rl}, nil
}

func (a *app) openGDB(ctx context.Context, addr string, mode gdbremote.PhysicalMode) (*gdbremote.Target, error) {
	return gdbremote.Open(ctx, addr, gdbremote.Options{
		DialOptions: gdbremote.DialOptions{
			RetryWindow: a.cfg.GDB.DialTimeout,
			Logger:      a.log,
		},
		Physical: mode,
	})
}

// tracedTarget closes the read trace after the target.
type tracedTarget struct {
	hv.Target
	log *readlog.Log
}

func (t *tracedTarget) Close() error {
	return errors.Join(t.Target.Close(), t.log.Close())
}

// withEnv opens the target and runs fn against a command environment.
func (a *app) withEnv(ctx context.Context, fn func(env *command.Env) error) error {
	start := time.Now()
	t, err := a.openTarget(ctx)
	if err != nil {
		return fmt.Errorf("open target %s: %w", a.cfg.Target, err)
	}
	defer func() {
		if err := t.Close(); err != nil {
			a.log.Warn("close target", "err", err)
		}
	}()
	a.log.Debug("target ready", "target", a.cfg.Target, "elapsed", time.Since(start))

	return fn(&command.Env{Target: t, Printer: a.printer(), Logger: a.log})
}

// report prints err as a single diagnostic line.
func (a *app) report(err error) {
	mode, _ := render.ParseColorMode(a.cfg.Color)
	render.New(a.stderr, mode).Error(err)
}
