package paging

import "strings"

// Entry is a raw 64-bit paging-structure entry. Its fields are only
// meaningful when the present bit is set.
type Entry uint64

// EntryFlag is a single bit of an Entry.
type EntryFlag uint64

const (
	FlagPresent EntryFlag = 1 << iota
	FlagWritable
	FlagUser
	FlagWriteThrough
	FlagCacheDisable
	FlagAccessed
	FlagDirty
	FlagPageSize
	FlagGlobal

	FlagNoExecute EntryFlag = 1 << 63
)

const (
	// tableBaseMask selects the next-level table address. It keeps bits
	// 52-63 on purpose: the walker applies the same lenient masks as the
	// huge-page laws and does not reject reserved bits.
	tableBaseMask = ^uint64(offsetMask)

	// physFrameMask selects bits 12-51, the architectural frame address.
	physFrameMask = uint64(0x000f_ffff_ffff_f000)
)

var entryFlagNames = []struct {
	flag EntryFlag
	name string
}{
	{FlagPresent, "P"},
	{FlagWritable, "W"},
	{FlagUser, "U"},
	{FlagWriteThrough, "PWT"},
	{FlagCacheDisable, "PCD"},
	{FlagAccessed, "A"},
	{FlagDirty, "D"},
	{FlagPageSize, "PS"},
	{FlagGlobal, "G"},
	{FlagNoExecute, "NX"},
}

// HasFlags returns true if this entry has all the input flags set.
func (e Entry) HasFlags(flags EntryFlag) bool {
	return uint64(e)&uint64(flags) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (e Entry) HasAnyFlag(flags EntryFlag) bool {
	return uint64(e)&uint64(flags) != 0
}

func (e Entry) Present() bool      { return e.HasFlags(FlagPresent) }
func (e Entry) Writable() bool     { return e.HasFlags(FlagWritable) }
func (e Entry) User() bool         { return e.HasFlags(FlagUser) }
func (e Entry) WriteThrough() bool { return e.HasFlags(FlagWriteThrough) }
func (e Entry) CacheDisable() bool { return e.HasFlags(FlagCacheDisable) }
func (e Entry) Accessed() bool     { return e.HasFlags(FlagAccessed) }
func (e Entry) Dirty() bool        { return e.HasFlags(FlagDirty) }
func (e Entry) PageSize() bool     { return e.HasFlags(FlagPageSize) }
func (e Entry) Global() bool       { return e.HasFlags(FlagGlobal) }
func (e Entry) NoExecute() bool    { return e.HasFlags(FlagNoExecute) }

// TableBase is the entry with its low 12 bits cleared.
func (e Entry) TableBase() PhysAddr {
	return PhysAddr(uint64(e) & tableBaseMask)
}

// Frame returns bits 12-51 of the entry, the architectural physical frame.
func (e Entry) Frame() PhysAddr {
	return PhysAddr(uint64(e) & physFrameMask)
}

// FlagNames lists the short names of the flags set in e, lowest bit first.
func (e Entry) FlagNames() []string {
	var names []string
	for _, f := range entryFlagNames {
		if e.HasFlags(f.flag) {
			names = append(names, f.name)
		}
	}
	return names
}

// FlagString joins FlagNames with " | ", or returns "None".
func (e Entry) FlagString() string {
	names := e.FlagNames()
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, " | ")
}
