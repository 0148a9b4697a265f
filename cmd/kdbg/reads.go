package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/subcommands"

	"github.com/tinyrange/kdbg/internal/hv"
	"github.com/tinyrange/kdbg/internal/readlog"
)

const (
	defaultReadsLimit = 100
	maxDataPreview    = 16
)

// readsCmd lists the records of a read trace written with -trace.
type readsCmd struct {
	kinds     string
	failed    bool
	limit     int
	tail      bool
	timeRange bool
	count     bool
}

// Name implements subcommands.Command.
func (*readsCmd) Name() string { return "reads" }

// Synopsis implements subcommands.Command.
func (*readsCmd) Synopsis() string { return "list the target reads recorded in a trace file" }

// Usage implements subcommands.Command.
func (*readsCmd) Usage() string {
	return `reads [flags] <trace file>
  Each record is printed as: TIMESTAMP KIND ADDRESS STATUS DETAIL
  -limit defaults to 100 and fails when more records match; use -tail or
  -limit 0 to see everything.
`
}

// SetFlags implements subcommands.Command.
func (r *readsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.kinds, "kind", "", "comma-separated kinds to show: mem, creg, dtreg")
	f.BoolVar(&r.failed, "failed", false, "only show failed reads")
	f.IntVar(&r.limit, "limit", defaultReadsLimit, "maximum number of records (0 for unlimited)")
	f.BoolVar(&r.tail, "tail", false, "show the last records instead of the first")
	f.BoolVar(&r.timeRange, "range", false, "print the earliest and latest timestamps")
	f.BoolVar(&r.count, "count", false, "print the number of matching records")
}

// Execute implements subcommands.Command.
func (r *readsCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	a := args[0].(*app)

	reader, closer, err := readlog.OpenFile(f.Arg(0))
	if err != nil {
		a.report(err)
		return subcommands.ExitFailure
	}
	defer closer.Close()

	if err := r.list(a.stdout, reader); err != nil {
		a.report(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (r *readsCmd) options() (readlog.SearchOptions, error) {
	var opts readlog.SearchOptions
	if r.kinds != "" {
		for _, name := range strings.Split(r.kinds, ",") {
			k, err := readlog.ParseKind(strings.TrimSpace(name))
			if err != nil {
				return opts, err
			}
			opts.Kinds = append(opts.Kinds, k)
		}
	}
	opts.FailedOnly = r.failed
	return opts, nil
}

func (r *readsCmd) list(w io.Writer, reader *readlog.Reader) error {
	if r.timeRange {
		earliest, latest := reader.TimeRange()
		fmt.Fprintf(w, "earliest: %s\nlatest:   %s\nduration: %s\n",
			earliest.Format(time.RFC3339Nano), latest.Format(time.RFC3339Nano), latest.Sub(earliest))
		return nil
	}

	opts, err := r.options()
	if err != nil {
		return err
	}
	total, err := reader.Count(opts)
	if err != nil {
		return err
	}
	if r.count {
		fmt.Fprintf(w, "%d\n", total)
		return nil
	}

	if r.limit > 0 && total > r.limit {
		switch {
		case r.tail:
			opts.LimitEnd = r.limit
		case r.limit == defaultReadsLimit:
			return fmt.Errorf("too many records: %d (limit is %d); use -tail for the last %d or set -limit", total, r.limit, r.limit)
		default:
			opts.LimitStart = r.limit
		}
	}

	return reader.Search(opts, func(e readlog.Entry) error {
		_, err := fmt.Fprintln(w, formatEntry(e))
		return err
	})
}

func formatEntry(e readlog.Entry) string {
	ts := e.Time.UTC().Format(time.RFC3339Nano)

	var where string
	if e.Kind == readlog.KindMemory {
		where = fmt.Sprintf("%#x+%d", e.Addr, e.Len)
	} else {
		where = e.Register().String()
	}

	if e.Failed {
		return fmt.Sprintf("%s %-5s %s FAILED %s", ts, e.Kind, where, e.Data)
	}

	var detail string
	switch v, _ := e.Value(); v := v.(type) {
	case hv.Register64:
		detail = fmt.Sprintf("%#016x", uint64(v))
	case hv.DescriptorTable:
		detail = fmt.Sprintf("base=%#016x limit=%#x", v.Base, v.Limit)
	default:
		preview := e.Data
		if len(preview) > maxDataPreview {
			preview = preview[:maxDataPreview]
		}
		detail = hex.EncodeToString(preview)
		if len(e.Data) > maxDataPreview {
			detail += "..."
		}
	}
	return fmt.Sprintf("%s %-5s %s ok %s", ts, e.Kind, where, detail)
}
