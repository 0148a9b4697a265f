package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"
	"golang.org/x/term"

	"github.com/tinyrange/kdbg/internal/command"
)

const shellPrompt = "kdbg> "

// shellCmd reads command lines from stdin and runs each against one open
// target. A failing command prints a diagnostic and the shell continues.
type shellCmd struct {
	prompt bool
}

// Name implements subcommands.Command.
func (*shellCmd) Name() string { return "shell" }

// Synopsis implements subcommands.Command.
func (*shellCmd) Synopsis() string { return "run inspector commands read from stdin" }

// Usage implements subcommands.Command.
func (*shellCmd) Usage() string {
	return `shell [-prompt]
  Reads one command per line. "help" lists commands, "quit" leaves.
`
}

// SetFlags implements subcommands.Command.
func (s *shellCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.prompt, "prompt", false, "always print a prompt, even when stdin is not a terminal")
}

// Execute implements subcommands.Command.
func (s *shellCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a := args[0].(*app)

	prompt := s.prompt
	if in, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(in.Fd())) {
		prompt = true
	}

	err := a.withEnv(ctx, func(env *command.Env) error {
		return runShell(a.reg, env, bufio.NewScanner(a.stdin), prompt)
	})
	if err != nil {
		a.report(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func runShell(reg *command.Registry, env *command.Env, in *bufio.Scanner, prompt bool) error {
	p := env.Printer
	for {
		if prompt {
			p.Printf("%s", shellPrompt)
		}
		if !in.Scan() {
			if prompt {
				p.Blank()
			}
			return in.Err()
		}
		fields := strings.Fields(in.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		switch fields[0] {
		case "quit", "exit":
			return nil
		case "help":
			shellHelp(reg, env)
			continue
		}

		if err := reg.Run(env, fields[0], fields[1:]); err != nil {
			p.Error(err)
		}
		if err := p.Err(); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}

func shellHelp(reg *command.Registry, env *command.Env) {
	rows := [][]string{}
	for _, c := range reg.Commands() {
		name := c.Name()
		if aliases := c.Aliases(); len(aliases) > 0 {
			name += " (" + strings.Join(aliases, ", ") + ")"
		}
		rows = append(rows, []string{name, c.Description()})
	}
	rows = append(rows, []string{"quit (exit)", "leave the shell"})
	env.Printer.Columns(rows)
}
