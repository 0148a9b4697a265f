package readlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/tinyrange/kdbg/internal/hv"
)

// Entry is one decoded record.
type Entry struct {
	Time   time.Time
	Kind   Kind
	Addr   uint64
	Len    int
	Failed bool

	// Data holds the bytes read, or the error text when Failed.
	Data []byte
}

// Register returns the register a register read was for.
func (e Entry) Register() hv.Register { return hv.Register(e.Addr) }

// Value decodes the payload of a successful register read.
func (e Entry) Value() (hv.RegisterValue, bool) {
	if e.Failed {
		return nil, false
	}
	switch {
	case e.Kind == KindControlRegister && len(e.Data) == 8:
		return hv.Register64(binary.LittleEndian.Uint64(e.Data)), true
	case e.Kind == KindDescriptorTable && len(e.Data) == 10:
		return hv.DescriptorTable{
			Base:  binary.LittleEndian.Uint64(e.Data[0:8]),
			Limit: binary.LittleEndian.Uint16(e.Data[8:10]),
		}, true
	}
	return nil, false
}

type SearchOptions struct {
	// The start and end timestamps to search within.
	Start time.Time
	End   time.Time

	// Only return entries of these kinds.
	Kinds []Kind

	// FailedOnly drops successful reads.
	FailedOnly bool

	// LimitStart only returns the first N matching entries. LimitEnd only
	// returns the last N. Setting both is an error.
	LimitStart int
	LimitEnd   int
}

func (o SearchOptions) matches(ie indexEntry) bool {
	ts := time.Unix(0, ie.UnixNano)
	if !o.Start.IsZero() && ts.Before(o.Start) {
		return false
	}
	if !o.End.IsZero() && ts.After(o.End) {
		return false
	}
	if o.FailedOnly && !ie.Failed {
		return false
	}
	if len(o.Kinds) > 0 {
		for _, k := range o.Kinds {
			if k == ie.Kind {
				return true
			}
		}
		return false
	}
	return true
}

type indexEntry struct {
	Offset   int64
	UnixNano int64
	Kind     Kind
	Failed   bool
}

// Reader gives access to a recorded log.
type Reader struct {
	r     io.ReaderAt
	index []indexEntry

	earliest int64
	latest   int64
}

// NewReader indexes the log read sequentially from index; records are
// then fetched from r.
func NewReader(r io.ReaderAt, index io.Reader) (*Reader, error) {
	ret := &Reader{r: r}
	if err := ret.indexAll(index); err != nil {
		return nil, fmt.Errorf("readlog: index: %w", err)
	}
	return ret, nil
}

// OpenFile opens and indexes the log at path.
func OpenFile(path string) (*Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("readlog: open: %w", err)
	}
	r, err := NewReader(f, io.NewSectionReader(f, 0, 1<<62))
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

func (r *Reader) indexAll(in io.Reader) error {
	br := bufio.NewReaderSize(in, 1<<20)
	var (
		hb  [headerSize]byte
		off int64
	)
	for {
		if _, err := io.ReadFull(br, hb[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read header at %d: %w", off, err)
		}
		h := decodeHeader(hb)
		if h.kind == KindInvalid {
			return fmt.Errorf("invalid header at %d", off)
		}
		if _, err := br.Discard(int(h.payload)); err != nil {
			return fmt.Errorf("record at %d: %w", off, err)
		}
		if r.earliest == 0 || h.ts < r.earliest {
			r.earliest = h.ts
		}
		if h.ts > r.latest {
			r.latest = h.ts
		}
		r.index = append(r.index, indexEntry{Offset: off, UnixNano: h.ts, Kind: h.kind, Failed: h.failed})
		off += headerSize + int64(h.payload)
	}

	// Concurrent writers may reserve offsets out of timestamp order.
	sort.SliceStable(r.index, func(i, j int) bool {
		return r.index[i].UnixNano < r.index[j].UnixNano
	})
	return nil
}

// Len returns the number of records.
func (r *Reader) Len() int { return len(r.index) }

// TimeRange returns the earliest and latest timestamps in the log.
func (r *Reader) TimeRange() (time.Time, time.Time) {
	return time.Unix(0, r.earliest), time.Unix(0, r.latest)
}

func (r *Reader) selected(opts SearchOptions) ([]indexEntry, error) {
	if opts.LimitStart > 0 && opts.LimitEnd > 0 {
		return nil, fmt.Errorf("readlog: cannot set both LimitStart and LimitEnd")
	}
	var out []indexEntry
	for _, ie := range r.index {
		if opts.matches(ie) {
			out = append(out, ie)
		}
	}
	if opts.LimitStart > 0 && len(out) > opts.LimitStart {
		out = out[:opts.LimitStart]
	}
	if opts.LimitEnd > 0 && len(out) > opts.LimitEnd {
		out = out[len(out)-opts.LimitEnd:]
	}
	return out, nil
}

func (r *Reader) entry(ie indexEntry) (Entry, error) {
	var hb [headerSize]byte
	if _, err := r.r.ReadAt(hb[:], ie.Offset); err != nil {
		return Entry{}, err
	}
	h := decodeHeader(hb)
	data := make([]byte, h.payload)
	if _, err := r.r.ReadAt(data, ie.Offset+headerSize); err != nil && len(data) > 0 {
		return Entry{}, err
	}
	return Entry{
		Time:   time.Unix(0, h.ts),
		Kind:   h.kind,
		Addr:   h.addr,
		Len:    int(h.length),
		Failed: h.failed,
		Data:   data,
	}, nil
}

// Search calls fn for every matching entry in timestamp order.
func (r *Reader) Search(opts SearchOptions, fn func(Entry) error) error {
	selected, err := r.selected(opts)
	if err != nil {
		return err
	}
	for _, ie := range selected {
		e, err := r.entry(ie)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Count returns how many entries Search would visit.
func (r *Reader) Count(opts SearchOptions) (int, error) {
	selected, err := r.selected(opts)
	return len(selected), err
}

// Each visits every entry.
func (r *Reader) Each(fn func(Entry) error) error {
	return r.Search(SearchOptions{}, fn)
}
