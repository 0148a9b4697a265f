package readlog

import (
	"encoding/binary"

	"github.com/tinyrange/kdbg/internal/hv"
)

// target records every read made through it before returning the result.
// A failure to write the log is passed to onError and does not affect the
// read.
type target struct {
	inner   hv.Target
	log     *Log
	onError func(error)
}

// Wrap returns a target that logs every read of inner to log.
func Wrap(inner hv.Target, log *Log, onError func(error)) hv.Target {
	if onError == nil {
		onError = func(error) {}
	}
	return &target{inner: inner, log: log, onError: onError}
}

func (t *target) record(kind Kind, addr uint64, length int, data []byte, err error) {
	if lerr := t.log.Record(kind, addr, length, data, err); lerr != nil {
		t.onError(lerr)
	}
}

func (t *target) ReadBytes(addr uint64, n int) ([]byte, error) {
	b, err := t.inner.ReadBytes(addr, n)
	t.record(KindMemory, addr, n, b, err)
	return b, err
}

func (t *target) ReadU64(addr uint64) (uint64, error) {
	v, err := t.inner.ReadU64(addr)
	t.record(KindMemory, addr, 8, binary.LittleEndian.AppendUint64(nil, v), err)
	return v, err
}

func (t *target) ReadU32(addr uint64) (uint32, error) {
	v, err := t.inner.ReadU32(addr)
	t.record(KindMemory, addr, 4, binary.LittleEndian.AppendUint32(nil, v), err)
	return v, err
}

func (t *target) ReadControlRegister(reg hv.Register) (uint64, error) {
	v, err := t.inner.ReadControlRegister(reg)
	t.record(KindControlRegister, uint64(reg), 8, binary.LittleEndian.AppendUint64(nil, v), err)
	return v, err
}

func (t *target) ReadDescriptorTableRegister(reg hv.Register) (hv.DescriptorTable, error) {
	dt, err := t.inner.ReadDescriptorTableRegister(reg)
	payload := binary.LittleEndian.AppendUint64(nil, dt.Base)
	payload = binary.LittleEndian.AppendUint16(payload, dt.Limit)
	t.record(KindDescriptorTable, uint64(reg), len(payload), payload, err)
	return dt, err
}

func (t *target) Architecture() hv.CpuArchitecture { return t.inner.Architecture() }

func (t *target) Close() error { return t.inner.Close() }
