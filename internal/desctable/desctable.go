// Package desctable decodes x86_64 interrupt and global descriptor table
// entries from target memory.
package desctable

const (
	// GateSize is the size of a long-mode IDT gate descriptor.
	GateSize = 16

	// SegmentSize is the size of a GDT slot.
	SegmentSize = 8
)

// EntryCount clamps a requested entry count to what a table with the given
// byte limit holds: min(requested, (limit+1)/entrySize).
func EntryCount(requested int, limit uint16, entrySize int) int {
	if requested <= 0 || entrySize <= 0 {
		return 0
	}
	return min(requested, (int(limit)+1)/entrySize)
}

// entryAddr returns the address of slot index in a table at base.
func entryAddr(base uint64, index, size int) uint64 {
	return base + uint64(index)*uint64(size)
}
