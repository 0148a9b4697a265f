// Command kdbg inspects the paging structures and descriptor tables of an
// x86_64 kernel, either live through a gdbstub or from a captured snapshot.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/subcommands"

	"github.com/tinyrange/kdbg/internal/command"
)

func main() {
	os.Exit(int(run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr)))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) subcommands.ExitStatus {
	fs := flag.NewFlagSet("kdbg", flag.ContinueOnError)
	fs.SetOutput(stderr)
	a := newApp(stdin, stdout, stderr)
	a.registerFlags(fs)

	cdr := subcommands.NewCommander(fs, "kdbg")
	cdr.Register(cdr.HelpCommand(), "")
	cdr.Register(cdr.FlagsCommand(), "")
	cdr.Register(cdr.CommandsCommand(), "")

	reg := command.NewRegistry()
	if err := command.RegisterCommands(reg); err != nil {
		fmt.Fprintf(stderr, "kdbg: %v\n", err)
		return subcommands.ExitFailure
	}
	a.reg = reg
	for _, c := range reg.Commands() {
		cdr.Register(&inspectCmd{cmd: c, name: c.Name()}, "inspect")
		for _, alias := range c.Aliases() {
			cdr.Register(&inspectCmd{cmd: c, name: alias}, "inspect")
		}
	}
	cdr.Register(&shellCmd{}, "inspect")
	cdr.Register(&captureCmd{}, "snapshot")
	cdr.Register(&readsCmd{}, "trace")
	cdr.Register(&configCmd{}, "")

	if err := fs.Parse(args); err != nil {
		return subcommands.ExitUsageError
	}
	if err := a.setup(fs); err != nil {
		fmt.Fprintf(a.stderr, "kdbg: %v\n", err)
		return subcommands.ExitUsageError
	}
	slog.SetDefault(a.log)

	return cdr.Execute(ctx, a)
}
