package gdbremote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/mod/semver"

	"github.com/tinyrange/kdbg/internal/hv"
)

// PhysicalMode selects whether memory reads use guest-physical addresses.
type PhysicalMode string

const (
	PhysicalOff  PhysicalMode = "off"
	PhysicalOn   PhysicalMode = "on"
	PhysicalAuto PhysicalMode = "auto"
)

// minPhysicalVersion is the first QEMU release with Qqemu.PhyMemMode.
const minPhysicalVersion = "v4.1.0"

var ErrPhysicalUnsupported = errors.New("gdbremote: stub cannot read physical memory")

type Options struct {
	DialOptions

	Physical PhysicalMode
}

// Target is an hv.Target backed by a gdbstub connection. Every register
// read runs "info registers" again; nothing is cached.
type Target struct {
	hv.Memory

	client   *Client
	log      *slog.Logger
	physical bool
}

// memoryAt adapts Client.ReadMemory to io.ReaderAt.
type memoryAt struct{ c *Client }

func (m memoryAt) ReadAt(p []byte, off int64) (int, error) {
	data, err := m.c.ReadMemory(uint64(off), len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, data), nil
}

// Open dials addr and prepares a target.
func Open(ctx context.Context, addr string, opts Options) (*Target, error) {
	c, err := Dial(ctx, addr, opts.DialOptions)
	if err != nil {
		return nil, err
	}
	t, err := NewTarget(c, opts)
	if err != nil {
		c.Close()
		return nil, err
	}
	return t, nil
}

// NewTarget performs the protocol handshake on c and applies opts.
func NewTarget(c *Client, opts Options) (*Target, error) {
	t := &Target{
		Memory: hv.Memory{R: memoryAt{c}},
		client: c,
		log:    c.log,
	}
	if err := c.Handshake(); err != nil {
		return nil, err
	}

	switch opts.Physical {
	case "", PhysicalOff:
	case PhysicalOn, PhysicalAuto:
		err := t.enablePhysical()
		if err == nil {
			break
		}
		if opts.Physical == PhysicalOn || !errors.Is(err, ErrPhysicalUnsupported) {
			return nil, err
		}
		t.log.Warn("gdbremote: physical memory mode unavailable, using virtual addresses", "err", err)
	default:
		return nil, fmt.Errorf("gdbremote: unknown physical mode %q", opts.Physical)
	}
	return t, nil
}

// Version returns the stub's QEMU version as a semver string.
func (t *Target) Version() (string, error) {
	text, err := t.client.Monitor("info version")
	if err != nil {
		return "", err
	}
	return parseVersion(text)
}

func (t *Target) enablePhysical() error {
	version, err := t.Version()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPhysicalUnsupported, err)
	}
	if semver.Compare(version, minPhysicalVersion) < 0 {
		return fmt.Errorf("%w: QEMU %s is older than %s", ErrPhysicalUnsupported, version, minPhysicalVersion)
	}
	resp, err := t.client.Exchange("Qqemu.PhyMemMode:1")
	if err != nil {
		return err
	}
	if string(resp) != "OK" {
		return fmt.Errorf("%w: reply %q", ErrPhysicalUnsupported, resp)
	}
	t.physical = true
	t.log.Debug("gdbremote: physical memory mode enabled", "qemu", version)
	return nil
}

// Physical reports whether reads use guest-physical addresses.
func (t *Target) Physical() bool { return t.physical }

func (t *Target) registers(reg hv.Register) (string, error) {
	text, err := t.client.Monitor("info registers")
	if err != nil {
		return "", &hv.RegisterError{Register: reg, Err: err}
	}
	return text, nil
}

func (t *Target) ReadControlRegister(reg hv.Register) (uint64, error) {
	if reg.IsDescriptorTable() {
		return 0, fmt.Errorf("%s is a descriptor-table register", reg)
	}
	text, err := t.registers(reg)
	if err != nil {
		return 0, err
	}
	return parseControlRegister(text, reg)
}

func (t *Target) ReadDescriptorTableRegister(reg hv.Register) (hv.DescriptorTable, error) {
	if !reg.IsDescriptorTable() {
		return hv.DescriptorTable{}, fmt.Errorf("%s is not a descriptor-table register", reg)
	}
	text, err := t.registers(reg)
	if err != nil {
		return hv.DescriptorTable{}, err
	}
	return parseDescriptorTable(text, reg)
}

func (t *Target) Architecture() hv.CpuArchitecture { return hv.ArchitectureX86_64 }

func (t *Target) Close() error {
	if t.physical {
		if _, err := t.client.Exchange("Qqemu.PhyMemMode:0"); err != nil {
			t.log.Debug("gdbremote: restore virtual mode", "err", err)
		}
	}
	return t.client.Close()
}

var _ hv.Target = &Target{}
