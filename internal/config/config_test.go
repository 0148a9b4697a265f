package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefault(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if c.Target != DefaultTarget || c.GDB.DialTimeout != DefaultDialTimeout {
		t.Fatalf("Default = %+v", c)
	}
	if n, _ := c.RAMBytes(); n != 1<<30 {
		t.Fatalf("RAMBytes = %d", n)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, Filename)
	content := `version: 1
target: snapshot:/tmp/guest.kdbg
color: never
logLevel: debug
gdb:
  physical: auto
  dialTimeout: 2s
capture:
  ram: 6g
  pciHole: "0xb0000000"
  compress: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Config{
		Version:  1,
		Target:   "snapshot:/tmp/guest.kdbg",
		Color:    "never",
		LogLevel: "debug",
		GDB:      GDBConfig{Physical: "auto", DialTimeout: 2 * time.Second},
		Capture:  CaptureConfig{RAM: "6g", PCIHole: "0xb0000000", Compress: true},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}

	if l, _ := c.Level(); l != slog.LevelDebug {
		t.Fatalf("Level = %v", l)
	}
	if n, _ := c.RAMBytes(); n != 6<<30 {
		t.Fatalf("RAMBytes = %d", n)
	}
	if h, _ := c.PCIHoleStart(); h != 0xb000_0000 {
		t.Fatalf("PCIHoleStart = %#x", h)
	}
}

func TestLoadMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), Filename)
	c, err := Load(path, true)
	if err != nil {
		t.Fatalf("optional Load: %v", err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Fatalf("missing file should give defaults (-want +got):\n%s", diff)
	}
	if _, err := Load(path, false); err == nil {
		t.Fatal("expected error for required missing file")
	}
}

func TestParseInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"version":  "version: 2\n",
		"target":   "target: localhost\n",
		"level":    "logLevel: chatty\n",
		"physical": "gdb:\n  physical: maybe\n",
		"ram":      "capture:\n  ram: lots\n",
		"pciHole":  "capture:\n  pciHole: \"0x200000000\"\n",
		"yaml":     "target: [\n",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	c := Default()
	c.Capture.Compress = true
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTarget(t *testing.T) {
	for in, want := range map[string]TargetSpec{
		"gdb://localhost:1234":   {Kind: TargetGDB, Addr: "localhost:1234"},
		"gdb://:1234":            {Kind: TargetGDB, Addr: "localhost:1234"},
		"10.0.0.2:9000":          {Kind: TargetGDB, Addr: "10.0.0.2:9000"},
		"gdb://[::1]:1234":       {Kind: TargetGDB, Addr: "[::1]:1234"},
		"snapshot:guest.kdbg":    {Kind: TargetSnapshot, Path: "guest.kdbg"},
		"snapshot:/a/b:c/d.kdbg": {Kind: TargetSnapshot, Path: "/a/b:c/d.kdbg"},
	} {
		got, err := ParseTarget(in)
		if err != nil {
			t.Fatalf("ParseTarget(%q): %v", in, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("ParseTarget(%q) mismatch (-want +got):\n%s", in, diff)
		}
	}
	for _, bad := range []string{"", "snapshot:", "gdb://host", "host:port", "host:70000"} {
		if _, err := ParseTarget(bad); err == nil {
			t.Fatalf("ParseTarget(%q): expected error", bad)
		}
	}
}
