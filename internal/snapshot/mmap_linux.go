//go:build linux

package snapshot

import (
	"math"
	"os"

	"golang.org/x/sys/unix"
)

func mapRegion(fh *os.File, off int64, size uint64) ([]byte, func() error, error) {
	if size > math.MaxInt {
		return nil, nil, unix.EINVAL
	}
	data, err := unix.Mmap(int(fh.Fd()), off, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
