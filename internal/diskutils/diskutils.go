// Package diskutils places partitions, writes partition tables and formats
// filesystems on raw disk images.
package diskutils

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aosc-dev/mkrawimg/internal/file"
	"github.com/aosc-dev/mkrawimg/internal/logger"
	"github.com/aosc-dev/mkrawimg/internal/retry"
	"github.com/aosc-dev/mkrawimg/internal/shell"
)

const (
	// MiB is the number of bytes in a mebibyte.
	MiB = 1024 * 1024

	// DefaultSectorSize is assumed for plain image files. Block devices are
	// asked for their real sector size.
	DefaultSectorSize = 512
)

// CreateSparseDisk creates a sparse raw image file of the given size.
func CreateSparseDisk(imagePath string, sizeBytes uint64) error {
	logger.Log.Debugf("Creating raw disk image (%s) of %d bytes", imagePath, sizeBytes)

	imageFile, err := os.OpenFile(imagePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create disk image (%s):\n%w", imagePath, err)
	}
	defer imageFile.Close()

	err = imageFile.Truncate(int64(sizeBytes))
	if err != nil {
		return fmt.Errorf("failed to size disk image (%s):\n%w", imagePath, err)
	}

	return imageFile.Close()
}

// GetSectorSize returns the logical sector size of a block device, or
// DefaultSectorSize for a regular file. Sector sizes can not be assumed.
func GetSectorSize(devPath string) (uint64, error) {
	dev, err := os.Open(devPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open (%s):\n%w", devPath, err)
	}
	defer dev.Close()

	info, err := dev.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat (%s):\n%w", devPath, err)
	}
	if info.Mode().IsRegular() {
		return DefaultSectorSize, nil
	}

	sectorSize, err := unix.IoctlGetInt(int(dev.Fd()), unix.BLKSSZGET)
	if err != nil {
		return 0, fmt.Errorf("failed to query sector size of (%s):\n%w", devPath, err)
	}
	return uint64(sectorSize), nil
}

// GetDiskSizeBytes returns the size of a block device or image file.
func GetDiskSizeBytes(devPath string) (uint64, error) {
	dev, err := os.Open(devPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open (%s):\n%w", devPath, err)
	}
	defer dev.Close()

	info, err := dev.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat (%s):\n%w", devPath, err)
	}
	if info.Mode().IsRegular() {
		return uint64(info.Size()), nil
	}

	sizeBytes, err := unix.IoctlGetInt(int(dev.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, fmt.Errorf("failed to query size of (%s):\n%w", devPath, err)
	}
	return uint64(sizeBytes), nil
}

// SyncBlockDevice flushes outstanding writes to the device.
func SyncBlockDevice(devPath string) error {
	dev, err := os.Open(devPath)
	if err != nil {
		return fmt.Errorf("failed to open (%s):\n%w", devPath, err)
	}
	defer dev.Close()

	err = unix.Fsync(int(dev.Fd()))
	if err != nil {
		return fmt.Errorf("failed to sync (%s):\n%w", devPath, err)
	}
	return nil
}

// RefreshPartitions asks the kernel to rescan the disk's partition table.
//
// The BLKRRPART ioctl returns EINVAL on loop devices, so the rescan goes
// through partprobe instead.
func RefreshPartitions(diskDevPath string) error {
	logger.Log.Debugf("Rescanning partitions of (%s)", diskDevPath)

	_, err := retry.RunWithExpBackoff(context.Background(), func() error {
		_, stderr, err := shell.Execute("partprobe", "-s", diskDevPath)
		if err != nil {
			return fmt.Errorf("partprobe failed:\n%v\n%w", stderr, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rescan partitions of (%s):\n%w", diskDevPath, err)
	}
	return nil
}

// PartitionDevPath returns the device node of a partition of the disk,
// waiting for the node to appear after a rescan.
func PartitionDevPath(diskDevPath string, partitionNum uint32) (string, error) {
	// Disk paths ending in a digit use the 'p<N>' naming scheme; that
	// includes every loop device.
	devPath := fmt.Sprintf("%s%d", diskDevPath, partitionNum)
	if isDigit(diskDevPath[len(diskDevPath)-1]) {
		devPath = fmt.Sprintf("%sp%d", diskDevPath, partitionNum)
	}

	err := retry.Run(func() error {
		exists, err := file.PathExists(devPath)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("device path (%s) does not exist yet", devPath)
		}
		return nil
	}, 10, 500*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("failed to find partition device node (%s):\n%w", devPath, err)
	}

	return devPath, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
