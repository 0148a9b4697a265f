//go:build !linux

package snapshot

import (
	"errors"
	"os"
)

func mapRegion(*os.File, int64, uint64) ([]byte, func() error, error) {
	return nil, nil, errors.New("mmap not supported")
}
