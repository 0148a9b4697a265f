package snapshot

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/google/btree"

	"github.com/tinyrange/kdbg/internal/hv"
)

// ErrNotCaptured is returned for reads outside every captured region.
var ErrNotCaptured = errors.New("address not captured in snapshot")

// maxInfoSize bounds the gob block so a corrupt length cannot force a huge
// allocation.
const maxInfoSize = 1 << 20

// maxInflateRatio is the best compression deflate can reach. A gzip region
// claiming more than this many bytes per stored byte is corrupt.
const maxInflateRatio = 1032

type region struct {
	base uint64
	size uint64
	data io.ReaderAt

	unmap func() error
}

func (r *region) Less(than btree.Item) bool {
	return r.base < than.(*region).base
}

// File is an opened snapshot. It implements hv.Target; memory reads are
// served from the captured regions and registers from the register block.
type File struct {
	hv.Memory
	hv.RegisterSet

	arch    hv.CpuArchitecture
	info    Info
	fh      *os.File
	regions *btree.BTree
}

// Open reads the snapshot at path. Raw regions are mapped read-only where
// the platform allows it; compressed regions are inflated into memory.
func Open(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	f, err := load(fh)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return f, nil
}

func load(fh *os.File) (*File, error) {
	fi, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}
	fileSize := fi.Size()

	r := bufio.NewReader(io.NewSectionReader(fh, 0, math.MaxInt64))

	var magic, version, arch, flags uint32
	for _, field := range []struct {
		name string
		v    *uint32
	}{{"magic", &magic}, {"version", &version}, {"arch", &arch}, {"flags", &flags}} {
		if err := binary.Read(r, binary.LittleEndian, field.v); err != nil {
			return nil, fmt.Errorf("read %s: %w", field.name, err)
		}
	}
	if magic != hv.SnapshotMagic {
		return nil, fmt.Errorf("invalid magic: expected %#x, got %#x", hv.SnapshotMagic, magic)
	}
	if version != hv.SnapshotVersion {
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	f := &File{
		arch:    hv.SnapshotArchToArch(arch),
		fh:      fh,
		regions: btree.New(8),
	}
	f.Memory = hv.Memory{R: f}
	if f.arch != hv.ArchitectureX86_64 {
		return nil, fmt.Errorf("unsupported architecture %d", arch)
	}

	var infoLen uint32
	if err := binary.Read(r, binary.LittleEndian, &infoLen); err != nil {
		return nil, fmt.Errorf("read info length: %w", err)
	}
	if infoLen > maxInfoSize {
		return nil, fmt.Errorf("info block of %d bytes is too large", infoLen)
	}
	info := make([]byte, infoLen)
	if _, err := io.ReadFull(r, info); err != nil {
		return nil, fmt.Errorf("read info: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(info)).Decode(&f.info); err != nil {
		return nil, fmt.Errorf("gob decode info: %w", err)
	}

	regs, err := readRegisters(r)
	if err != nil {
		return nil, err
	}
	f.RegisterSet = regs

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read region count: %w", err)
	}
	if int64(count)*regionEntrySize > fileSize {
		return nil, fmt.Errorf("region table of %d entries does not fit in the file", count)
	}
	entries := make([]regionEntry, 0, min(count, 1024))
	for i := uint32(0); i < count; i++ {
		var e regionEntry
		if err := binary.Read(r, binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("read region table: %w", err)
		}
		if err := e.check(fileSize); err != nil {
			return nil, fmt.Errorf("region %#x: %w", e.Base, err)
		}
		entries = append(entries, e)
	}

	for _, e := range entries {
		reg, err := openRegion(fh, e)
		if err != nil {
			f.unmapAll()
			return nil, fmt.Errorf("region %#x: %w", e.Base, err)
		}
		if prev := f.lookup(e.Base); prev != nil || f.overlapsNext(e) {
			reg.close()
			f.unmapAll()
			return nil, fmt.Errorf("region %#x overlaps another region", e.Base)
		}
		f.regions.ReplaceOrInsert(reg)
	}
	return f, nil
}

// check applies the rules Snapshot.validate enforces on write, plus bounds
// against the file itself.
func (e regionEntry) check(fileSize int64) error {
	switch {
	case e.Size == 0:
		return fmt.Errorf("region is empty")
	case e.Base+e.Size < e.Base:
		return fmt.Errorf("region of %#x bytes wraps the address space", e.Size)
	case e.Offset > uint64(fileSize) || e.StoredSize > uint64(fileSize)-e.Offset:
		return fmt.Errorf("data at %#x+%#x lies outside the %d-byte file", e.Offset, e.StoredSize, fileSize)
	case e.Encoding == encodingGzip && e.Size/maxInflateRatio > e.StoredSize:
		return fmt.Errorf("%d compressed bytes cannot hold %d bytes", e.StoredSize, e.Size)
	}
	return nil
}

func openRegion(fh *os.File, e regionEntry) (*region, error) {
	if e.Offset > math.MaxInt64 || e.StoredSize > math.MaxInt64 {
		return nil, fmt.Errorf("offset out of range")
	}
	off := int64(e.Offset)
	switch e.Encoding {
	case encodingRaw:
		if e.StoredSize != e.Size {
			return nil, fmt.Errorf("raw region stores %d of %d bytes", e.StoredSize, e.Size)
		}
		if data, unmap, err := mapRegion(fh, off, e.Size); err == nil {
			return &region{base: e.Base, size: e.Size, data: bytes.NewReader(data), unmap: unmap}, nil
		}
		return &region{base: e.Base, size: e.Size, data: io.NewSectionReader(fh, off, int64(e.Size))}, nil
	case encodingGzip:
		gzr, err := gzip.NewReader(io.NewSectionReader(fh, off, int64(e.StoredSize)))
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		defer gzr.Close()
		if e.Size > math.MaxInt {
			return nil, fmt.Errorf("region too large to inflate")
		}
		data := make([]byte, e.Size)
		if _, err := io.ReadFull(gzr, data); err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
		return &region{base: e.Base, size: e.Size, data: bytes.NewReader(data)}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %d", e.Encoding)
	}
}

func readRegisters(r io.Reader) (hv.RegisterSet, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read register count: %w", err)
	}
	if count > uint32(len(registerOrder)) {
		return nil, fmt.Errorf("register block has %d entries", count)
	}
	regs := hv.RegisterSet{}
	for i := uint32(0); i < count; i++ {
		var (
			id    uint32
			kind  uint8
			value uint64
			limit uint16
		)
		for _, v := range []any{&id, &kind, &value, &limit} {
			if err := binary.Read(r, binary.LittleEndian, v); err != nil {
				return nil, fmt.Errorf("read register: %w", err)
			}
		}
		reg := hv.Register(id)
		switch kind {
		case regKind64:
			regs[reg] = hv.Register64(value)
		case regKindDT:
			regs[reg] = hv.DescriptorTable{Base: value, Limit: limit}
		default:
			return nil, fmt.Errorf("register %s: unknown kind %d", reg, kind)
		}
	}
	return regs, nil
}

func (r *region) end() uint64 { return r.base + r.size }

func (r *region) close() error {
	if r.unmap == nil {
		return nil
	}
	return r.unmap()
}

// lookup returns the region containing addr.
func (f *File) lookup(addr uint64) *region {
	var found *region
	f.regions.DescendLessOrEqual(&region{base: addr}, func(i btree.Item) bool {
		if r := i.(*region); addr < r.end() {
			found = r
		}
		return false
	})
	return found
}

func (f *File) overlapsNext(e regionEntry) bool {
	overlaps := false
	f.regions.AscendGreaterOrEqual(&region{base: e.Base}, func(i btree.Item) bool {
		overlaps = i.(*region).base < e.Base+e.Size
		return false
	})
	return overlaps
}

// ReadAt reads target memory at guest address off. A read may span
// adjacent regions but not a gap between them.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	addr := uint64(off)
	n := 0
	for n < len(p) {
		r := f.lookup(addr)
		if r == nil {
			return n, fmt.Errorf("%#x: %w", addr, ErrNotCaptured)
		}
		want := int(min(uint64(len(p)-n), r.end()-addr))
		got, err := r.data.ReadAt(p[n:n+want], int64(addr-r.base))
		n += got
		if got < want {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return n, err
		}
		addr += uint64(want)
	}
	return n, nil
}

func (f *File) Architecture() hv.CpuArchitecture { return f.arch }

// Info returns the capture metadata.
func (f *File) Info() Info { return f.info }

// Regions lists the captured ranges in address order.
func (f *File) Regions() []Region {
	var out []Region
	f.regions.Ascend(func(i btree.Item) bool {
		r := i.(*region)
		out = append(out, Region{Base: r.base, Size: r.size, Data: r.data})
		return true
	})
	return out
}

// Snapshot returns the file's contents in the form Save accepts. Region
// data stays backed by f.
func (f *File) Snapshot() *Snapshot {
	regs := hv.RegisterSet{}
	for k, v := range f.RegisterSet {
		regs[k] = v
	}
	return &Snapshot{Arch: f.arch, Info: f.info, Registers: regs, Regions: f.Regions()}
}

func (f *File) unmapAll() error {
	var errs []error
	f.regions.Ascend(func(i btree.Item) bool {
		if err := i.(*region).close(); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	f.regions.Clear(false)
	return errors.Join(errs...)
}

// Close releases mapped regions and the file.
func (f *File) Close() error {
	return errors.Join(f.unmapAll(), f.fh.Close())
}

var _ hv.Target = &File{}
