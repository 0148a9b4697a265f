package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseColorMode(t *testing.T) {
	for in, want := range map[string]ColorMode{
		"":       ColorAuto,
		"auto":   ColorAuto,
		"Always": ColorAlways,
		"never":  ColorNever,
		"off":    ColorNever,
	} {
		got, err := ParseColorMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseColorMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseColorMode("rainbow"); err == nil {
		t.Fatal("expected error")
	}
}

func TestAutoModeOnBufferIsPlain(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, ColorAuto)
	if p.Color() {
		t.Fatal("buffer should not be treated as a terminal")
	}
	p.Line("%s", p.Style(RoleTitle, "IDT"))
	if got := buf.String(); got != "IDT\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestAlwaysModeStyles(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, ColorAlways)
	p.Line("%s", p.Style(RoleError, "boom"))
	out := buf.String()
	if !strings.Contains(out, "\x1b[") || !strings.Contains(out, "boom") {
		t.Fatalf("expected styled output, got %q", out)
	}
}

func TestNeverModeStripsEscapes(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, ColorNever)
	p.Line("\x1b[1mbold\x1b[m")
	if got := buf.String(); got != "bold\n" {
		t.Fatalf("output = %q", got)
	}
}

func TestRuleAndBanner(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, ColorNever)
	p.Banner("Page Table Walk", "PML4 Base: 0x1000")
	p.Divider()
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines: %q", len(lines), lines)
	}
	if lines[0] != strings.Repeat("=", RuleWidth) || lines[3] != lines[0] {
		t.Fatalf("rules = %q / %q", lines[0], lines[3])
	}
	if lines[2] != "PML4 Base: 0x1000" {
		t.Fatalf("detail = %q", lines[2])
	}
	if lines[4] != strings.Repeat("-", RuleWidth) {
		t.Fatalf("divider = %q", lines[4])
	}
	if lines[1] != "Page Table Walk" {
		t.Fatalf("title = %q", lines[1])
	}
}

func TestColumns(t *testing.T) {
	var buf bytes.Buffer
	p := New(&buf, ColorNever)
	p.Columns([][]string{
		{"a", "bb", "c"},
		{"dddd", "e", "f"},
	})
	want := "a     bb  c\ndddd  e   f\n"
	if got := buf.String(); got != want {
		t.Fatalf("Columns:\n%q\nwant\n%q", got, want)
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestErrStopsWriting(t *testing.T) {
	p := New(failWriter{}, ColorNever)
	p.Line("one")
	p.Line("two")
	if p.Err() == nil {
		t.Fatal("expected write error")
	}
}
