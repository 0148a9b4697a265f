// Package readlog records every read made against a target in a binary log
// and reads such logs back.
package readlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Each record is a 32-byte header followed by the payload:
//   - 2 bytes kind
//   - 2 bytes status (0 = ok, 1 = failed)
//   - 4 bytes payload length
//   - 8 bytes timestamp (nanoseconds since epoch)
//   - 8 bytes address, or register number for register reads
//   - 4 bytes requested length
//   - 4 bytes reserved
//
// The payload is the data read, or the error text for failed reads.
//
// Writers reserve space by atomically advancing the log offset, so records
// from concurrent readers never interleave.

const headerSize = 32

type Kind uint16

const (
	KindInvalid Kind = iota
	KindMemory
	KindControlRegister
	KindDescriptorTable
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "mem"
	case KindControlRegister:
		return "creg"
	case KindDescriptorTable:
		return "dtreg"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}

// ParseKind accepts the names printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindMemory; k <= KindDescriptorTable; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown read kind %q", s)
}

const (
	statusOK     uint16 = 0
	statusFailed uint16 = 1
)

// Writer is the destination of a Log.
type Writer interface {
	io.WriterAt
	io.Closer
}

// Log appends read records to a Writer. It is safe for concurrent use.
type Log struct {
	w      Writer
	offset atomic.Int64
	now    func() time.Time
}

func New(w Writer) *Log {
	return &Log{w: w, now: time.Now}
}

// Create truncates path and logs to it.
func Create(path string) (*Log, error) {
	// Truncate so stale trailing records from an earlier run are not read.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

func encodeHeader(kind Kind, failed bool, ts time.Time, addr uint64, length int, payload int) []byte {
	header := make([]byte, headerSize, headerSize+payload)
	status := statusOK
	if failed {
		status = statusFailed
	}
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], status)
	binary.LittleEndian.PutUint32(header[4:8], uint32(payload))
	binary.LittleEndian.PutUint64(header[8:16], uint64(ts.UnixNano()))
	binary.LittleEndian.PutUint64(header[16:24], addr)
	binary.LittleEndian.PutUint32(header[24:28], uint32(length))
	return header
}

type header struct {
	kind    Kind
	failed  bool
	payload uint32
	ts      int64
	addr    uint64
	length  uint32
}

func decodeHeader(b [headerSize]byte) header {
	return header{
		kind:    Kind(binary.LittleEndian.Uint16(b[0:2])),
		failed:  binary.LittleEndian.Uint16(b[2:4]) == statusFailed,
		payload: binary.LittleEndian.Uint32(b[4:8]),
		ts:      int64(binary.LittleEndian.Uint64(b[8:16])),
		addr:    binary.LittleEndian.Uint64(b[16:24]),
		length:  binary.LittleEndian.Uint32(b[24:28]),
	}
}

// Record appends one read. data is the bytes returned on success; err is
// the failure, if any.
func (l *Log) Record(kind Kind, addr uint64, length int, data []byte, err error) error {
	payload := data
	if err != nil {
		payload = []byte(err.Error())
	}
	rec := append(encodeHeader(kind, err != nil, l.now(), addr, length, len(payload)), payload...)

	size := int64(len(rec))
	off := l.offset.Add(size) - size
	if _, err := l.w.WriteAt(rec, off); err != nil {
		return fmt.Errorf("readlog: write record at %d: %w", off, err)
	}
	return nil
}

func (l *Log) Close() error {
	return l.w.Close()
}

// Buffer is an in-memory Writer.
type Buffer struct {
	writes  sync.Map
	maxSize atomic.Int64
}

type write struct {
	off  int64
	data []byte
}

func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	b.writes.Store(off, write{off: off, data: append([]byte{}, p...)})
	end := off + int64(len(p))
	for {
		cur := b.maxSize.Load()
		if cur >= end || b.maxSize.CompareAndSwap(cur, end) {
			break
		}
	}
	return len(p), nil
}

func (b *Buffer) Close() error { return nil }

// Bytes assembles the log written so far.
func (b *Buffer) Bytes() []byte {
	data := make([]byte, b.maxSize.Load())
	b.writes.Range(func(_, value any) bool {
		w := value.(write)
		copy(data[w.off:], w.data)
		return true
	})
	return data
}
