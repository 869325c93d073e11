package rawimglib

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/aosc-dev/mkrawimg/internal/logger"
	"github.com/aosc-dev/mkrawimg/internal/safemount"
)

const zeroFillChunkSize = 4 << 20

// zeroFillFreeSpace writes zeroes over the free space of the mounted
// filesystem, so the unused blocks compress to nearly nothing. The fill
// file is grown until the filesystem reports ENOSPC, then deleted.
func zeroFillFreeSpace(mountDir string) error {
	fillPath := filepath.Join(mountDir, ".zerofill")
	fill, err := os.OpenFile(fillPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create the fill file:\n%w", err)
	}
	defer os.Remove(fillPath)
	defer fill.Close()

	chunk := make([]byte, zeroFillChunkSize)
	var written uint64
	for {
		n, err := fill.Write(chunk)
		written += uint64(n)
		if err != nil {
			if errors.Is(err, unix.ENOSPC) {
				break
			}
			return fmt.Errorf("failed to fill free space:\n%w", err)
		}
	}
	logger.Log.Debugf("Wrote %d bytes of zeroes to %s", written, fillPath)

	err = fill.Sync()
	if err != nil && !errors.Is(err, unix.ENOSPC) {
		return fmt.Errorf("failed to sync the fill file:\n%w", err)
	}
	fill.Close()

	err = os.Remove(fillPath)
	if err != nil {
		return fmt.Errorf("failed to remove the fill file:\n%w", err)
	}
	return safemount.SyncFilesystem(mountDir)
}
