package rawimglib

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/diskutils"
	"github.com/aosc-dev/mkrawimg/internal/safechroot"
)

// applyBootloaders runs the device's bootloader steps in declaration
// order. A step either runs a script inside the image, flashes a file onto
// a whole partition, or flashes a file at a byte offset of the disk.
func (ic *ImageContext) applyBootloaders(rootDir string, loopDevPath string, binds []string) error {
	if len(ic.Device.Bootloaders) == 0 {
		return nil
	}
	ic.infof("Applying bootloaders ...")

	for i := range ic.Device.Bootloaders {
		bootloader := &ic.Device.Bootloaders[i]
		var err error
		switch bootloader.Type {
		case devicespec.BootloaderTypeScript:
			scriptPath := filepath.Join(ic.Device.Dir(), bootloader.Name)
			ic.infof("Running bootloader script %s", bootloader.Name)
			chroot := safechroot.NewChroot(rootDir, binds)
			err = chroot.RunScript(scriptPath, "")

		case devicespec.BootloaderTypeFlashPartition:
			var partDevPath string
			partDevPath, err = diskutils.PartitionDevPath(loopDevPath, bootloader.Partition)
			if err == nil {
				err = flashFile(rootDir, bootloader.Path, partDevPath, 0)
			}

		case devicespec.BootloaderTypeFlashOffset:
			err = flashFile(rootDir, bootloader.Path, loopDevPath, int64(bootloader.Offset))

		default:
			err = fmt.Errorf("invalid bootloader type (%s)", bootloader.Type)
		}
		if err != nil {
			return fmt.Errorf("failed to apply bootloader:\n%w", err)
		}
	}
	return nil
}

// flashFile copies a file from inside the image onto a block device,
// starting at offset.
func flashFile(rootDir string, imagePath string, devPath string, offset int64) error {
	// The configured path is absolute within the image; a plain join with
	// an absolute path would escape the root.
	srcPath := filepath.Join(rootDir, strings.TrimPrefix(imagePath, "/"))
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open bootloader image (%s):\n%w", imagePath, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(devPath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open target device (%s):\n%w", devPath, err)
	}
	defer dst.Close()

	_, err = dst.Seek(offset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("failed to seek to offset %d:\n%w", offset, err)
	}
	_, err = io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("failed to write bootloader image (%s) to (%s):\n%w",
			imagePath, devPath, err)
	}
	return dst.Sync()
}
