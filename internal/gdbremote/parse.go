package gdbremote

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tinyrange/kdbg/internal/hv"
)

// QEMU's "info registers" prints control registers as NAME=hex and
// descriptor-table registers as "GDT=     base limit".
var (
	controlRegisterRE = map[hv.Register]*regexp.Regexp{
		hv.RegisterAMD64Cr0:  regexp.MustCompile(`\bCR0=([0-9a-fA-F]+)\b`),
		hv.RegisterAMD64Cr2:  regexp.MustCompile(`\bCR2=([0-9a-fA-F]+)\b`),
		hv.RegisterAMD64Cr3:  regexp.MustCompile(`\bCR3=([0-9a-fA-F]+)\b`),
		hv.RegisterAMD64Cr4:  regexp.MustCompile(`\bCR4=([0-9a-fA-F]+)\b`),
		hv.RegisterAMD64Efer: regexp.MustCompile(`\bEFER=([0-9a-fA-F]+)\b`),
	}
	descriptorTableRE = map[hv.Register]*regexp.Regexp{
		hv.RegisterAMD64Gdtr: regexp.MustCompile(`\bGDT=\s*([0-9a-fA-F]+)\s+([0-9a-fA-F]+)\b`),
		hv.RegisterAMD64Idtr: regexp.MustCompile(`\bIDT=\s*([0-9a-fA-F]+)\s+([0-9a-fA-F]+)\b`),
	}
	versionRE = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)
)

func parseControlRegister(text string, reg hv.Register) (uint64, error) {
	re, ok := controlRegisterRE[reg]
	if !ok {
		return 0, &hv.RegisterError{Register: reg, Err: hv.ErrRegisterUnsupported}
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, &hv.ParseError{What: reg.String(), Text: text}
	}
	v, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		return 0, &hv.ParseError{What: reg.String(), Text: m[0]}
	}
	return v, nil
}

func parseDescriptorTable(text string, reg hv.Register) (hv.DescriptorTable, error) {
	re, ok := descriptorTableRE[reg]
	if !ok {
		return hv.DescriptorTable{}, &hv.RegisterError{Register: reg, Err: hv.ErrRegisterUnsupported}
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return hv.DescriptorTable{}, &hv.ParseError{What: reg.String(), Text: text}
	}
	base, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		return hv.DescriptorTable{}, &hv.ParseError{What: reg.String(), Text: m[0]}
	}
	// The limit field is printed 32 bits wide but only 16 are architectural.
	limit, err := strconv.ParseUint(m[2], 16, 16)
	if err != nil {
		return hv.DescriptorTable{}, &hv.ParseError{What: reg.String() + " limit", Text: m[0]}
	}
	return hv.DescriptorTable{Base: base, Limit: uint16(limit)}, nil
}

// parseVersion turns the first "x.y.z" in QEMU's "info version" output
// into a semver string.
func parseVersion(text string) (string, error) {
	m := versionRE.FindStringSubmatch(text)
	if m == nil {
		return "", &hv.ParseError{What: "QEMU version", Text: text}
	}
	return "v" + strings.Join(m[1:], "."), nil
}
