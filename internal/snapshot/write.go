package snapshot

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tinyrange/kdbg/internal/hv"
)

// SaveOptions controls how a snapshot is written.
type SaveOptions struct {
	// Compress stores region data gzip-compressed. Compressed regions are
	// inflated into memory on load instead of being mapped.
	Compress bool
}

// Save writes snap to path. The file is written next to path and renamed
// into place once complete.
func Save(path string, snap *Snapshot, opts SaveOptions) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	bw := bufio.NewWriterSize(tmp, 1<<20)
	if err := Write(bw, snap, opts); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// countingWriter tracks the file offset so region data can be aligned.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) pad(align int64) error {
	if rem := c.n % align; rem != 0 {
		_, err := c.Write(make([]byte, align-rem))
		return err
	}
	return nil
}

// regionEntry is one row of the region table.
type regionEntry struct {
	Base       uint64
	Size       uint64
	Encoding   uint32
	Reserved   uint32
	Offset     uint64
	StoredSize uint64
}

const regionEntrySize = 40

// Write encodes snap to w.
//
// Layout: header (magic, version, arch, flags), gob-encoded Info, register
// block, region table, then region data. Raw region data starts on a 4 KiB
// boundary.
func Write(w io.Writer, snap *Snapshot, opts SaveOptions) error {
	if err := snap.validate(); err != nil {
		return err
	}
	cw := &countingWriter{w: w}

	var flags uint32
	if opts.Compress {
		flags |= flagCompressed
	}
	for _, v := range []uint32{hv.SnapshotMagic, hv.SnapshotVersion, hv.ArchToSnapshotArch(snap.Arch), flags} {
		if err := binary.Write(cw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	var info bytes.Buffer
	if err := gob.NewEncoder(&info).Encode(&snap.Info); err != nil {
		return fmt.Errorf("gob encode info: %w", err)
	}
	if err := binary.Write(cw, binary.LittleEndian, uint32(info.Len())); err != nil {
		return fmt.Errorf("write info length: %w", err)
	}
	if _, err := cw.Write(info.Bytes()); err != nil {
		return fmt.Errorf("write info: %w", err)
	}

	if err := writeRegisters(cw, snap.Registers); err != nil {
		return err
	}

	// Compressed data has to exist before the table can record its size.
	stored := make([][]byte, len(snap.Regions))
	if opts.Compress {
		for i, r := range snap.Regions {
			data, err := compressRegion(r)
			if err != nil {
				return fmt.Errorf("compress region %#x: %w", r.Base, err)
			}
			stored[i] = data
		}
	}

	tableEnd := cw.n + 4 + int64(len(snap.Regions))*regionEntrySize
	offset := alignUp(tableEnd, regionAlign)
	entries := make([]regionEntry, len(snap.Regions))
	for i, r := range snap.Regions {
		e := regionEntry{Base: r.Base, Size: r.Size, Offset: uint64(offset), StoredSize: r.Size}
		if opts.Compress {
			e.Encoding = encodingGzip
			e.StoredSize = uint64(len(stored[i]))
		}
		entries[i] = e
		offset = alignUp(offset+int64(e.StoredSize), regionAlign)
	}

	if err := binary.Write(cw, binary.LittleEndian, uint32(len(entries))); err != nil {
		return fmt.Errorf("write region count: %w", err)
	}
	for _, e := range entries {
		if err := binary.Write(cw, binary.LittleEndian, e); err != nil {
			return fmt.Errorf("write region table: %w", err)
		}
	}

	for i, r := range snap.Regions {
		if err := cw.pad(regionAlign); err != nil {
			return fmt.Errorf("write padding: %w", err)
		}
		if cw.n != int64(entries[i].Offset) {
			return fmt.Errorf("region %#x: at offset %#x, table says %#x", r.Base, cw.n, entries[i].Offset)
		}
		if opts.Compress {
			if _, err := cw.Write(stored[i]); err != nil {
				return fmt.Errorf("write region %#x: %w", r.Base, err)
			}
			continue
		}
		if _, err := io.Copy(cw, io.NewSectionReader(r.Data, 0, int64(r.Size))); err != nil {
			return fmt.Errorf("write region %#x: %w", r.Base, err)
		}
	}
	return nil
}

func writeRegisters(w io.Writer, regs hv.RegisterSet) error {
	var present []hv.Register
	for _, reg := range registerOrder {
		if _, ok := regs[reg]; ok {
			present = append(present, reg)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(present))); err != nil {
		return fmt.Errorf("write register count: %w", err)
	}
	for _, reg := range present {
		var (
			kind  uint8
			value uint64
			limit uint16
		)
		switch v := regs[reg].(type) {
		case hv.Register64:
			kind, value = regKind64, uint64(v)
		case hv.DescriptorTable:
			kind, value, limit = regKindDT, v.Base, v.Limit
		default:
			return fmt.Errorf("register %s: unsupported value %T", reg, v)
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(reg)); err != nil {
			return fmt.Errorf("write register %s: %w", reg, err)
		}
		if err := binary.Write(w, binary.LittleEndian, kind); err != nil {
			return fmt.Errorf("write register %s: %w", reg, err)
		}
		if err := binary.Write(w, binary.LittleEndian, value); err != nil {
			return fmt.Errorf("write register %s: %w", reg, err)
		}
		if err := binary.Write(w, binary.LittleEndian, limit); err != nil {
			return fmt.Errorf("write register %s: %w", reg, err)
		}
	}
	return nil
}

func compressRegion(r Region) ([]byte, error) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	if _, err := io.Copy(gzw, io.NewSectionReader(r.Data, 0, int64(r.Size))); err != nil {
		gzw.Close()
		return nil, err
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("close gzip compressor: %w", err)
	}
	return buf.Bytes(), nil
}

func alignUp(v, align int64) int64 {
	return (v + align - 1) &^ (align - 1)
}
