package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/tinyrange/kdbg/internal/command"
)

// inspectCmd exposes a registry command as a subcommand. Aliases get their
// own inspectCmd with a different name.
type inspectCmd struct {
	cmd  command.Command
	name string
}

// Name implements subcommands.Command.
func (c *inspectCmd) Name() string { return c.name }

// Synopsis implements subcommands.Command.
func (c *inspectCmd) Synopsis() string {
	if c.name != c.cmd.Name() {
		return fmt.Sprintf("alias for %s", c.cmd.Name())
	}
	return c.cmd.Description()
}

// Usage implements subcommands.Command.
func (c *inspectCmd) Usage() string {
	return fmt.Sprintf("%s\n  %s\n", c.cmd.Usage(), c.cmd.Description())
}

// SetFlags implements subcommands.Command.
func (*inspectCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.
func (c *inspectCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	a := args[0].(*app)
	err := a.withEnv(ctx, func(env *command.Env) error {
		if err := a.reg.Run(env, c.name, f.Args()); err != nil {
			return err
		}
		return env.Printer.Err()
	})
	if err != nil {
		a.report(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
