package safemount

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosc-dev/mkrawimg/internal/logger"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	os.Exit(m.Run())
}

func skipUnlessRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("Test must be run as root because it mounts filesystems")
	}
}

func TestMountAndCleanClose(t *testing.T) {
	skipUnlessRoot(t)

	target := filepath.Join(t.TempDir(), "mnt")
	mount, err := NewMount("tmpfs", target, "tmpfs", 0, "", true)
	require.NoError(t, err)
	defer mount.Close()

	mounted, err := IsMountPoint(target)
	assert.NoError(t, err)
	assert.True(t, mounted)

	err = mount.CleanClose()
	assert.NoError(t, err)

	// The mount directory is removed along with the mount.
	_, err = os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestStackUnwindsInReverseOrder(t *testing.T) {
	skipUnlessRoot(t)

	base := t.TempDir()
	outer := filepath.Join(base, "outer")
	inner := filepath.Join(outer, "inner")

	stack := NewStack(0)
	defer stack.Close()

	_, err := stack.Mount("tmpfs", outer, "tmpfs", 0, "", true)
	require.NoError(t, err)
	_, err = stack.Mount("tmpfs", inner, "tmpfs", 0, "", true)
	require.NoError(t, err)

	// Unwinding must drop the inner mount first or the outer unmount would
	// fail with EBUSY.
	err = stack.CleanClose()
	assert.NoError(t, err)

	mounted, err := IsMountPoint(outer)
	assert.NoError(t, err)
	assert.False(t, mounted)
}

func TestIsMountPointMissingPath(t *testing.T) {
	mounted, err := IsMountPoint(filepath.Join(t.TempDir(), "nope"))
	assert.NoError(t, err)
	assert.False(t, mounted)
}
