package hv

import "fmt"

// RegisterSet is a fixed register file, used by targets that capture the
// register state up front (snapshots, tests).
type RegisterSet map[Register]RegisterValue

// ReadControlRegister implements RegisterReader.
func (s RegisterSet) ReadControlRegister(reg Register) (uint64, error) {
	if reg.IsDescriptorTable() {
		return 0, fmt.Errorf("%s is a descriptor-table register", reg)
	}
	v, ok := s[reg]
	if !ok {
		return 0, &RegisterError{Register: reg, Err: ErrRegisterUnsupported}
	}
	r64, ok := v.(Register64)
	if !ok {
		return 0, &RegisterError{Register: reg, Err: fmt.Errorf("unexpected value type %T", v)}
	}
	return uint64(r64), nil
}

// ReadDescriptorTableRegister implements RegisterReader.
func (s RegisterSet) ReadDescriptorTableRegister(reg Register) (DescriptorTable, error) {
	if !reg.IsDescriptorTable() {
		return DescriptorTable{}, fmt.Errorf("%s is not a descriptor-table register", reg)
	}
	v, ok := s[reg]
	if !ok {
		return DescriptorTable{}, &RegisterError{Register: reg, Err: ErrRegisterUnsupported}
	}
	dt, ok := v.(DescriptorTable)
	if !ok {
		return DescriptorTable{}, &RegisterError{Register: reg, Err: fmt.Errorf("unexpected value type %T", v)}
	}
	return dt, nil
}

var _ RegisterReader = RegisterSet{}
