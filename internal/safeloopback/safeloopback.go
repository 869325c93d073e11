// Package safeloopback attaches disk images to loop devices and guarantees
// they are detached again, even on error paths.
package safeloopback

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/aosc-dev/mkrawimg/internal/diskutils"
	"github.com/aosc-dev/mkrawimg/internal/logger"
)

const loopControlPath = "/dev/loop-control"

// Loopback is a loop device attached to a disk image.
type Loopback struct {
	devicePath   string
	diskFilePath string
	isAttached   bool
}

// NewLoopback attaches the disk image to a free loop device with partition
// scanning enabled.
func NewLoopback(diskFilePath string) (*Loopback, error) {
	loopback := &Loopback{
		diskFilePath: diskFilePath,
	}

	err := loopback.create()
	if err != nil {
		loopback.Close()
		return nil, err
	}

	return loopback, nil
}

// DevicePath returns the loop device node, e.g. /dev/loop3.
func (l *Loopback) DevicePath() string {
	return l.devicePath
}

func (l *Loopback) create() error {
	control, err := os.OpenFile(loopControlPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open (%s):\n%w", loopControlPath, err)
	}
	defer control.Close()

	devNum, err := unix.IoctlRetInt(int(control.Fd()), unix.LOOP_CTL_GET_FREE)
	if err != nil {
		return fmt.Errorf("failed to get a free loop device:\n%w", err)
	}
	devicePath := fmt.Sprintf("/dev/loop%d", devNum)

	image, err := os.OpenFile(l.diskFilePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open disk image (%s):\n%w", l.diskFilePath, err)
	}
	defer image.Close()

	device, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to open loop device (%s):\n%w", devicePath, err)
	}
	defer device.Close()

	err = unix.IoctlSetInt(int(device.Fd()), unix.LOOP_SET_FD, int(image.Fd()))
	if err != nil {
		return fmt.Errorf("failed to attach (%s) to (%s):\n%w", l.diskFilePath, devicePath, err)
	}

	l.devicePath = devicePath
	l.isAttached = true

	info := unix.LoopInfo64{
		Flags: unix.LO_FLAGS_PARTSCAN,
	}
	err = unix.IoctlLoopSetStatus64(int(device.Fd()), &info)
	if err != nil {
		return fmt.Errorf("failed to enable partition scanning on (%s):\n%w", devicePath, err)
	}

	logger.Log.Debugf("Attached (%s) to (%s)", l.diskFilePath, devicePath)
	return nil
}

func (l *Loopback) detach() error {
	if !l.isAttached {
		return nil
	}

	device, err := os.OpenFile(l.devicePath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open loop device (%s):\n%w", l.devicePath, err)
	}
	defer device.Close()

	err = unix.IoctlSetInt(int(device.Fd()), unix.LOOP_CLR_FD, 0)
	if err != nil {
		return fmt.Errorf("failed to detach loop device (%s):\n%w", l.devicePath, err)
	}

	l.isAttached = false
	logger.Log.Debugf("Detached (%s)", l.devicePath)
	return nil
}

// CleanClose waits for outstanding writes and detaches the loop device,
// reporting any failure.
func (l *Loopback) CleanClose() error {
	if !l.isAttached {
		return nil
	}

	err := diskutils.SyncBlockDevice(l.devicePath)
	if err != nil {
		return err
	}

	return l.detach()
}

// Close detaches the loop device, logging failures instead of returning
// them. Intended for defer.
func (l *Loopback) Close() {
	err := l.detach()
	if err != nil {
		logger.Log.Warnf("Failed to detach loop device (%s): %s", l.devicePath, err)
	}
}
