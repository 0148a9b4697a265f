package hv

import (
	"errors"
	"testing"
)

func TestRegisterSet(t *testing.T) {
	regs := RegisterSet{
		RegisterAMD64Cr3:  Register64(0x1000),
		RegisterAMD64Idtr: DescriptorTable{Base: 0xffff_8000_0010_0000, Limit: 0xfff},
	}

	cr3, err := regs.ReadControlRegister(RegisterAMD64Cr3)
	if err != nil {
		t.Fatalf("ReadControlRegister: %v", err)
	}
	if cr3 != 0x1000 {
		t.Fatalf("cr3 = %#x", cr3)
	}

	idtr, err := regs.ReadDescriptorTableRegister(RegisterAMD64Idtr)
	if err != nil {
		t.Fatalf("ReadDescriptorTableRegister: %v", err)
	}
	if idtr.Capacity(16) != 256 {
		t.Fatalf("idtr capacity = %d", idtr.Capacity(16))
	}

	if _, err := regs.ReadDescriptorTableRegister(RegisterAMD64Gdtr); !errors.Is(err, ErrRegisterUnsupported) {
		t.Fatalf("expected ErrRegisterUnsupported, got %v", err)
	}
	if _, err := regs.ReadControlRegister(RegisterAMD64Idtr); err == nil {
		t.Fatalf("expected error reading idtr as a control register")
	}
}

func TestParseRegister(t *testing.T) {
	for name, want := range map[string]Register{
		"cr3":  RegisterAMD64Cr3,
		"$CR3": RegisterAMD64Cr3,
		"GDTR": RegisterAMD64Gdtr,
		"efer": RegisterAMD64Efer,
	} {
		got, err := ParseRegister(name)
		if err != nil {
			t.Fatalf("ParseRegister(%q): %v", name, err)
		}
		if got != want {
			t.Fatalf("ParseRegister(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseRegister("rax"); err == nil {
		t.Fatalf("expected error for unsupported register")
	}
}

func TestParseErrorMatchesSentinel(t *testing.T) {
	err := error(&ParseError{What: "IDTR", Text: "garbage"})
	if !errors.Is(err, ErrParseFailure) {
		t.Fatalf("expected ErrParseFailure")
	}
}
