// Package config loads kdbg's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const (
	Filename = "kdbg.yaml"

	DefaultTarget      = "gdb://localhost:1234"
	DefaultRAM         = "1GiB"
	DefaultDialTimeout = 5 * time.Second
)

type Config struct {
	Version  int    `yaml:"version"`
	Target   string `yaml:"target"`
	Color    string `yaml:"color"`
	LogLevel string `yaml:"logLevel"`
	Trace    string `yaml:"trace,omitempty"`

	GDB     GDBConfig     `yaml:"gdb"`
	Capture CaptureConfig `yaml:"capture"`
}

type GDBConfig struct {
	// Physical is off, on or auto.
	Physical    string        `yaml:"physical"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

type CaptureConfig struct {
	// RAM is the guest RAM size, e.g. "512MiB" or "4g".
	RAM string `yaml:"ram"`

	// PCIHole is where RAM stops below 4 GiB; zero means the x86 default.
	PCIHole  string `yaml:"pciHole,omitempty"`
	Compress bool   `yaml:"compress"`
}

func (c *Config) normalize() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Target == "" {
		c.Target = DefaultTarget
	}
	if c.Color == "" {
		c.Color = "auto"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.GDB.Physical == "" {
		c.GDB.Physical = "off"
	}
	if c.GDB.DialTimeout == 0 {
		c.GDB.DialTimeout = DefaultDialTimeout
	}
	if c.Capture.RAM == "" {
		c.Capture.RAM = DefaultRAM
	}
}

// Default returns the configuration used when no file exists.
func Default() Config {
	var c Config
	c.normalize()
	return c
}

// Load reads path. When optional is set a missing file yields Default.
func Load(path string, optional bool) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && optional {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a configuration document and fills in defaults.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", Filename, err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every field that has a fixed vocabulary or syntax.
func (c Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version %d", c.Version)
	}
	if _, err := ParseTarget(c.Target); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.GDB.Physical {
	case "off", "on", "auto":
	default:
		return fmt.Errorf("gdb.physical: %q is not off, on or auto", c.GDB.Physical)
	}
	if _, err := c.RAMBytes(); err != nil {
		return err
	}
	if _, err := c.PCIHoleStart(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("logLevel: %w", err)
	}
	return l, nil
}

// RAMBytes parses Capture.RAM.
func (c Config) RAMBytes() (uint64, error) {
	n, err := units.RAMInBytes(c.Capture.RAM)
	if err != nil {
		return 0, fmt.Errorf("capture.ram: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("capture.ram: %q is not a positive size", c.Capture.RAM)
	}
	return uint64(n), nil
}

// PCIHoleStart parses Capture.PCIHole; zero means the default.
func (c Config) PCIHoleStart() (uint64, error) {
	if c.Capture.PCIHole == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(c.Capture.PCIHole, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("capture.pciHole: %w", err)
	}
	if v > 1<<32 {
		return 0, fmt.Errorf("capture.pciHole: %#x is above 4 GiB", v)
	}
	return v, nil
}

// Encode writes c as YAML.
func (c Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("encode %s: %w", Filename, err)
	}
	return enc.Close()
}

type TargetKind int

const (
	TargetGDB TargetKind = iota
	TargetSnapshot
)

// TargetSpec is a parsed target string.
type TargetSpec struct {
	Kind TargetKind

	// Addr is host:port for TargetGDB.
	Addr string

	// Path is the file for TargetSnapshot.
	Path string
}

func (t TargetSpec) String() string {
	if t.Kind == TargetSnapshot {
		return "snapshot:" + t.Path
	}
	return "gdb://" + t.Addr
}

// ParseTarget accepts "gdb://host:port", "snapshot:path" or a bare
// "host:port".
func ParseTarget(s string) (TargetSpec, error) {
	switch {
	case strings.HasPrefix(s, "snapshot:"):
		path := strings.TrimPrefix(s, "snapshot:")
		if path == "" {
			return TargetSpec{}, fmt.Errorf("target %q: missing snapshot path", s)
		}
		return TargetSpec{Kind: TargetSnapshot, Path: path}, nil
	case strings.HasPrefix(s, "gdb://"):
		s = strings.TrimPrefix(s, "gdb://")
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return TargetSpec{}, fmt.Errorf("target %q: %w", s, err)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return TargetSpec{}, fmt.Errorf("target %q: invalid port %q", s, port)
	}
	if host == "" {
		host = "localhost"
	}
	return TargetSpec{Kind: TargetGDB, Addr: net.JoinHostPort(host, port)}, nil
}
