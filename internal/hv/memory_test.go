package hv

import (
	"bytes"
	"errors"
	"testing"
)

func TestMemoryReadLittleEndian(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0xaa, 0xbb, 0xcc, 0xdd}
	mem := Memory{R: bytes.NewReader(data)}

	v64, err := mem.ReadU64(0)
	if err != nil {
		t.Fatalf("ReadU64: %v", err)
	}
	if v64 != 0x0807060504030201 {
		t.Fatalf("ReadU64 = %#x", v64)
	}

	v32, err := mem.ReadU32(8)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if v32 != 0xddccbbaa {
		t.Fatalf("ReadU32 = %#x", v32)
	}

	// A read that ends exactly at the end of the reader is complete.
	b, err := mem.ReadBytes(10, 2)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(b, []byte{0xcc, 0xdd}) {
		t.Fatalf("ReadBytes = %x", b)
	}
}

func TestMemoryShortReadIsUnreadable(t *testing.T) {
	mem := Memory{R: bytes.NewReader(make([]byte, 4))}

	_, err := mem.ReadU64(0)
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
	var ue *UnreadableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnreadableError, got %T", err)
	}
	if ue.Addr != 0 || ue.Len != 8 {
		t.Fatalf("unexpected error fields: %+v", ue)
	}
}

func TestMemoryAddressOutOfRange(t *testing.T) {
	mem := Memory{R: bytes.NewReader(nil)}
	if _, err := mem.ReadU64(1 << 63); !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
}
