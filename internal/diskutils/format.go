package diskutils

import (
	"fmt"
	"time"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/blkid"
	"github.com/aosc-dev/mkrawimg/internal/logger"
	"github.com/aosc-dev/mkrawimg/internal/retry"
	"github.com/aosc-dev/mkrawimg/internal/shell"
)

const (
	mkfsAttempts = 3
	mkfsRetryGap = 2 * time.Second
)

// MkfsArgs builds the mkfs command line for the filesystem type.
func MkfsArgs(fsType devicespec.FilesystemType, devPath string, fsLabel string) (string, []string, error) {
	if fsType == devicespec.FilesystemTypeNone || fsType == "" {
		return "", nil, fmt.Errorf("instructed to not be formatted")
	}
	err := fsType.CheckLabel(fsLabel)
	if err != nil {
		return "", nil, err
	}

	var command, labelFlag string
	var args []string
	switch fsType {
	case devicespec.FilesystemTypeExt4:
		command, labelFlag = "mkfs.ext4", "-L"
	case devicespec.FilesystemTypeXfs:
		command, labelFlag = "mkfs.xfs", "-L"
	case devicespec.FilesystemTypeBtrfs:
		command, labelFlag = "mkfs.btrfs", "-L"
	case devicespec.FilesystemTypeFat16:
		command, labelFlag = "mkfs.vfat", "-n"
		args = append(args, "-F", "16")
	case devicespec.FilesystemTypeFat32:
		command, labelFlag = "mkfs.vfat", "-n"
		args = append(args, "-F", "32")
	default:
		return "", nil, fmt.Errorf("invalid filesystem value (%s)", fsType)
	}

	if fsLabel != "" {
		args = append(args, labelFlag, fsLabel)
	}
	args = append(args, "--", devPath)
	return command, args, nil
}

// FormatPartition formats the partition device and returns the new
// filesystem's UUID.
//
// mkfs is retried a few times; udev occasionally still holds the fresh
// partition device open when formatting starts.
func FormatPartition(fsType devicespec.FilesystemType, devPath string, fsLabel string) (string, error) {
	command, args, err := MkfsArgs(fsType, devPath, fsLabel)
	if err != nil {
		return "", err
	}

	err = retry.Run(func() error {
		_, stderr, err := shell.Execute(command, args...)
		if err != nil {
			logger.Log.Warnf("Failed to format partition using %s: %v", command, stderr)
			return err
		}
		return nil
	}, mkfsAttempts, mkfsRetryGap)
	if err != nil {
		return "", fmt.Errorf("could not format partition with type %s after %d attempts:\n%w",
			fsType, mkfsAttempts, err)
	}

	fsUUID, err := blkid.GetFSUUID(devPath)
	if err != nil {
		return "", fmt.Errorf("failed to read the new filesystem's UUID:\n%w", err)
	}
	return fsUUID, nil
}
