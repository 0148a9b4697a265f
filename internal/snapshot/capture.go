package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinyrange/kdbg/internal/hv"
)

const defaultChunkSize = 64 << 10

// CaptureOptions controls Capture.
type CaptureOptions struct {
	// ChunkSize is the size of each memory read. Unreadable chunks are left
	// out of the snapshot.
	ChunkSize int

	// Progress is called with the number of bytes processed after each
	// chunk, readable or not.
	Progress func(n int64)

	Info   Info
	Logger *slog.Logger
}

// Capture copies the registers and the RAM described by space out of
// target. Registers the target does not provide are left out.
func Capture(target hv.Target, space *hv.AddressSpace, opts CaptureOptions) (*Snapshot, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	chunk := uint64(opts.ChunkSize)
	if chunk == 0 {
		chunk = defaultChunkSize
	}

	regs, err := captureRegisters(target, log)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Arch: target.Architecture(), Info: opts.Info, Registers: regs}

	var skipped uint64
	for _, mr := range space.Regions() {
		var (
			cur     *bytes.Buffer
			curBase uint64
		)
		flush := func() {
			if cur != nil && cur.Len() > 0 {
				snap.Regions = append(snap.Regions, Region{
					Base: curBase,
					Size: uint64(cur.Len()),
					Data: bytes.NewReader(cur.Bytes()),
				})
			}
			cur = nil
		}

		for addr := mr.Base; addr < mr.End(); addr += chunk {
			n := min(chunk, mr.End()-addr)
			data, err := target.ReadBytes(addr, int(n))
			switch {
			case errors.Is(err, hv.ErrUnreadable):
				log.Debug("capture: skipping unreadable range", "addr", fmt.Sprintf("%#x", addr), "len", n, "err", err)
				flush()
				skipped += n
			case err != nil:
				return nil, fmt.Errorf("capture %s at %#x: %w", mr.Name, addr, err)
			default:
				if cur == nil {
					cur = bytes.NewBuffer(make([]byte, 0, min(mr.End()-addr, 256<<20)))
					curBase = addr
				}
				cur.Write(data)
			}
			if opts.Progress != nil {
				opts.Progress(int64(n))
			}
		}
		flush()
	}

	if len(snap.Regions) == 0 {
		return nil, fmt.Errorf("capture: no memory could be read (%d bytes tried)", skipped)
	}
	if skipped > 0 {
		log.Warn("capture: some memory was unreadable", "skipped", skipped)
	}
	return snap, nil
}

func captureRegisters(target hv.Target, log *slog.Logger) (hv.RegisterSet, error) {
	regs := hv.RegisterSet{}
	for _, reg := range registerOrder {
		var (
			v   hv.RegisterValue
			err error
		)
		if reg.IsDescriptorTable() {
			var dt hv.DescriptorTable
			dt, err = target.ReadDescriptorTableRegister(reg)
			v = dt
		} else {
			var r uint64
			r, err = target.ReadControlRegister(reg)
			v = hv.Register64(r)
		}
		if errors.Is(err, hv.ErrRegisterUnsupported) {
			log.Debug("capture: register not available", "register", reg)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("capture %s: %w", reg, err)
		}
		regs[reg] = v
	}
	return regs, nil
}
