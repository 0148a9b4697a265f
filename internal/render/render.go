// Package render writes command output, optionally styled with ANSI
// escape sequences when the destination is a terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

// RuleWidth is the width of separator lines on non-terminal output.
const RuleWidth = 80

type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

func (m ColorMode) String() string {
	switch m {
	case ColorAlways:
		return "always"
	case ColorNever:
		return "never"
	default:
		return "auto"
	}
}

// ParseColorMode accepts "auto", "always" or "never". The empty string is
// auto.
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ColorAuto, nil
	case "always", "on", "true":
		return ColorAlways, nil
	case "never", "off", "false":
		return ColorNever, nil
	}
	return ColorAuto, fmt.Errorf("invalid color mode %q (want auto, always or never)", s)
}

// Role selects how a span of text is styled.
type Role int

const (
	RolePlain Role = iota
	RoleTitle
	RoleAddress
	RoleFlags
	RoleOK
	RoleWarn
	RoleError
	RoleMuted
)

var roleStyles = map[Role]ansi.Style{
	RoleTitle:   ansi.Style{}.Bold(),
	RoleAddress: ansi.Style{}.ForegroundColor(ansi.Cyan),
	RoleFlags:   ansi.Style{}.ForegroundColor(ansi.Yellow),
	RoleOK:      ansi.Style{}.ForegroundColor(ansi.Green),
	RoleWarn:    ansi.Style{}.ForegroundColor(ansi.Magenta),
	RoleError:   ansi.Style{}.Bold().ForegroundColor(ansi.Red),
	RoleMuted:   ansi.Style{}.ForegroundColor(ansi.BrightBlack),
}

// Printer writes lines to an output stream.
type Printer struct {
	w     io.Writer
	color bool
	width int
	err   error
}

// New returns a Printer writing to w. In ColorAuto mode colour is enabled
// only when w is a terminal.
func New(w io.Writer, mode ColorMode) *Printer {
	p := &Printer{w: w, width: RuleWidth}

	tty := false
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		tty = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 && cols < RuleWidth {
			p.width = cols
		}
	}

	switch mode {
	case ColorAlways:
		p.color = true
	case ColorNever:
		p.color = false
	default:
		p.color = tty && os.Getenv("NO_COLOR") == ""
	}
	return p
}

// Color reports whether output is styled.
func (p *Printer) Color() bool { return p.color }

// Width is the separator width.
func (p *Printer) Width() int { return p.width }

// Err returns the first write error, if any.
func (p *Printer) Err() error { return p.err }

// Style wraps s for role when colour is enabled.
func (p *Printer) Style(role Role, s string) string {
	if !p.color || s == "" {
		return s
	}
	st, ok := roleStyles[role]
	if !ok {
		return s
	}
	return st.Styled(s)
}

func (p *Printer) write(s string) {
	if p.err != nil {
		return
	}
	if !p.color {
		s = ansi.Strip(s)
	}
	_, p.err = io.WriteString(p.w, s)
}

// Printf writes a formatted string.
func (p *Printer) Printf(format string, args ...any) {
	p.write(fmt.Sprintf(format, args...))
}

// Line writes a formatted line.
func (p *Printer) Line(format string, args ...any) {
	p.write(fmt.Sprintf(format, args...) + "\n")
}

// Blank writes an empty line.
func (p *Printer) Blank() { p.write("\n") }

// Rule writes a line of '='.
func (p *Printer) Rule() {
	p.write(p.Style(RoleMuted, strings.Repeat("=", p.width)) + "\n")
}

// Divider writes a line of '-'.
func (p *Printer) Divider() {
	p.write(p.Style(RoleMuted, strings.Repeat("-", p.width)) + "\n")
}

// Banner writes title and any detail lines between two rules.
func (p *Printer) Banner(title string, details ...string) {
	p.Rule()
	p.Line("%s", p.Style(RoleTitle, title))
	for _, d := range details {
		p.Line("%s", d)
	}
	p.Rule()
}

// Error writes a diagnostic line prefixed with "error: ".
func (p *Printer) Error(err error) {
	p.Line("%s %v", p.Style(RoleError, "error:"), err)
}

// Columns pads cells to their widest entry per column. Widths are measured
// on the visible text so styled cells line up.
func (p *Printer) Columns(rows [][]string) {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], ansi.StringWidth(cell))
		}
	}
	for _, row := range rows {
		var b strings.Builder
		for i, cell := range row {
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)+2))
			}
		}
		p.Line("%s", b.String())
	}
}
