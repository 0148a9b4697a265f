package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"
)

// configCmd prints the effective configuration, after flag overrides, in
// the format read by -config.
type configCmd struct{}

// Name implements subcommands.Command.
func (*configCmd) Name() string { return "config" }

// Synopsis implements subcommands.Command.
func (*configCmd) Synopsis() string { return "print the effective configuration as YAML" }

// Usage implements subcommands.Command.
func (*configCmd) Usage() string {
	return "config\n  Redirect the output to kdbg.yaml to start a configuration file.\n"
}

// SetFlags implements subcommands.Command.
func (*configCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.
func (*configCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a := args[0].(*app)
	if err := a.cfg.Encode(a.stdout); err != nil {
		a.report(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
