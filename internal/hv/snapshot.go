package hv

// Snapshot file format constants
const (
	SnapshotMagic   uint32 = 0x4b444247 // "KDBG"
	SnapshotVersion uint32 = 1
)

// Architecture encoding for snapshot files
const (
	SnapshotArchInvalid uint32 = 0
	SnapshotArchX86_64  uint32 = 1
)

// ArchToSnapshotArch converts a CpuArchitecture to its snapshot file encoding.
func ArchToSnapshotArch(arch CpuArchitecture) uint32 {
	switch arch {
	case ArchitectureX86_64:
		return SnapshotArchX86_64
	default:
		return SnapshotArchInvalid
	}
}

// SnapshotArchToArch converts a snapshot file architecture encoding to CpuArchitecture.
func SnapshotArchToArch(arch uint32) CpuArchitecture {
	switch arch {
	case SnapshotArchX86_64:
		return ArchitectureX86_64
	default:
		return ArchitectureInvalid
	}
}
