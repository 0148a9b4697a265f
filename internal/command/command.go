// Package command implements the inspector commands and the table they are
// dispatched from.
package command

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tinyrange/kdbg/internal/hv"
	"github.com/tinyrange/kdbg/internal/render"
)

var ErrUnknownCommand = errors.New("unknown command")

// Env is what a command runs against.
type Env struct {
	Target  hv.Target
	Printer *render.Printer
	Logger  *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

// Command is one inspector command. Invoke renders its results through
// env.Printer; per-entry read failures are rendered inline and do not fail
// the command.
type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Invoke(env *Env, args []string) error
}

// Registry maps command names and aliases to commands.
type Registry struct {
	commands map[string]Command
	names    map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
		names:    make(map[string]string),
	}
}

// Register adds c under its name and aliases. A name already taken by
// another command is an error.
func (r *Registry) Register(c Command) error {
	for _, n := range append([]string{c.Name()}, c.Aliases()...) {
		if owner, ok := r.names[n]; ok {
			return fmt.Errorf("command %q: name %q already used by %q", c.Name(), n, owner)
		}
	}
	r.commands[c.Name()] = c
	r.names[c.Name()] = c.Name()
	for _, a := range c.Aliases() {
		r.names[a] = c.Name()
	}
	return nil
}

// Lookup resolves a command name or alias.
func (r *Registry) Lookup(name string) (Command, bool) {
	canonical, ok := r.names[name]
	if !ok {
		return nil, false
	}
	return r.commands[canonical], true
}

// Commands returns the registered commands sorted by name.
func (r *Registry) Commands() []Command {
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Run looks name up and invokes it.
func (r *Registry) Run(env *Env, name string, args []string) error {
	c, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	env.logger().Debug("invoke command", "command", c.Name(), "args", strings.Join(args, " "))
	return c.Invoke(env, args)
}

// RegisterCommands adds the built-in commands to reg.
func RegisterCommands(reg *Registry) error {
	for _, c := range []Command{
		&translateAddress{},
		&dumpInterruptTable{},
		&dumpSegmentTable{},
		&dumpMappings{},
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
