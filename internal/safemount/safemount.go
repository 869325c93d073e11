// Package safemount mounts filesystems and guarantees they are unmounted
// again, even on error paths.
package safemount

import (
	"fmt"
	"os"
	"time"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"github.com/aosc-dev/mkrawimg/internal/logger"
	"github.com/aosc-dev/mkrawimg/internal/processes"
	"github.com/aosc-dev/mkrawimg/internal/retry"
)

const (
	umountAttempts = 3
	umountRetryGap = 500 * time.Millisecond
)

// Mount is a single mounted filesystem.
type Mount struct {
	source        string
	target        string
	fstype        string
	flags         uintptr
	data          string
	isMounted     bool
	createdTarget bool
}

// NewMount mounts source at target. With makeAndDelete, the target directory
// is created first and removed again on close.
func NewMount(source, target, fstype string, flags uintptr, data string, makeAndDelete bool,
) (*Mount, error) {
	mount := &Mount{
		source: source,
		target: target,
		fstype: fstype,
		flags:  flags,
		data:   data,
	}

	err := mount.create(makeAndDelete)
	if err != nil {
		mount.Close()
		return nil, fmt.Errorf("failed to mount (%s) at (%s):\n%w", source, target, err)
	}

	return mount, nil
}

// Target returns the mount point.
func (m *Mount) Target() string {
	return m.target
}

func (m *Mount) create(makeAndDelete bool) error {
	if makeAndDelete {
		err := os.MkdirAll(m.target, 0o755)
		if err != nil {
			return fmt.Errorf("failed to create mount directory (%s):\n%w", m.target, err)
		}
		m.createdTarget = true
	}

	logger.Log.Debugf("Mounting (%s) at (%s), type (%s)", m.source, m.target, m.fstype)
	err := unix.Mount(m.source, m.target, m.fstype, m.flags, m.data)
	if err != nil {
		return err
	}
	m.isMounted = true
	return nil
}

func (m *Mount) unmount() error {
	if !m.isMounted {
		return nil
	}

	// The kernel may still consider the mount busy for a moment after the
	// last file is closed.
	err := retry.Run(func() error {
		return unix.Unmount(m.target, 0)
	}, umountAttempts, umountRetryGap)
	if err != nil {
		holders, listErr := processes.ListUsingPath(m.target)
		if listErr == nil && len(holders) > 0 {
			logger.Log.Warnf("Processes keeping (%s) busy: %v", m.target, holders)
		}
		return fmt.Errorf("failed to unmount (%s):\n%w", m.target, err)
	}

	m.isMounted = false
	return nil
}

// CleanClose flushes the filesystem, unmounts it, and removes the mount
// directory if it was created by NewMount. Reports any failure.
func (m *Mount) CleanClose() error {
	if m.isMounted {
		err := SyncFilesystem(m.target)
		if err != nil {
			return err
		}
	}

	err := m.unmount()
	if err != nil {
		return err
	}

	if m.createdTarget {
		err = os.Remove(m.target)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove mount directory (%s):\n%w", m.target, err)
		}
		m.createdTarget = false
	}

	return nil
}

// Close unmounts best-effort, logging failures instead of returning them.
// Intended for defer; safe to call after a successful CleanClose.
func (m *Mount) Close() {
	err := m.unmount()
	if err != nil {
		logger.Log.Warnf("Failed to unmount (%s): %s", m.target, err)
		return
	}

	if m.createdTarget {
		err = os.Remove(m.target)
		if err != nil && !os.IsNotExist(err) {
			logger.Log.Warnf("Failed to remove mount directory (%s): %s", m.target, err)
		}
		m.createdTarget = false
	}
}

// SyncFilesystem flushes the filesystem containing path.
func SyncFilesystem(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open (%s):\n%w", path, err)
	}
	defer dir.Close()

	err = unix.Syncfs(int(dir.Fd()))
	if err != nil {
		return fmt.Errorf("failed to sync filesystem at (%s):\n%w", path, err)
	}
	return nil
}

// IsMountPoint reports whether path currently has a filesystem mounted.
func IsMountPoint(path string) (bool, error) {
	mounted, err := mountinfo.Mounted(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check mount state of (%s):\n%w", path, err)
	}
	return mounted, nil
}
