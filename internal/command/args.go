package command

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidArgument is matched by every *ArgumentError.
var ErrInvalidArgument = errors.New("invalid argument")

// ArgumentError reports a command argument that could not be used.
type ArgumentError struct {
	Command string
	Arg     string
	Reason  string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: invalid argument %q: %s", e.Command, e.Arg, e.Reason)
}

func (e *ArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

func tooManyArgs(c Command, args []string, max int) error {
	if len(args) <= max {
		return nil
	}
	return &ArgumentError{Command: c.Name(), Arg: args[max], Reason: "usage: " + c.Usage()}
}

// parseAddress accepts decimal, 0x hex, 0o octal or 0b binary.
func parseAddress(c Command, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, &ArgumentError{Command: c.Name(), Arg: s, Reason: "not an address"}
	}
	return v, nil
}

// parseCount returns def when args is empty.
func parseCount(c Command, args []string, def int) (int, error) {
	if err := tooManyArgs(c, args, 1); err != nil {
		return 0, err
	}
	if len(args) == 0 {
		return def, nil
	}
	v, err := strconv.ParseUint(args[0], 0, 31)
	if err != nil {
		return 0, &ArgumentError{Command: c.Name(), Arg: args[0], Reason: "not a count"}
	}
	return int(v), nil
}
