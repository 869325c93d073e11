package rawimglib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosc-dev/mkrawimg/devicespec"
)

func TestBootstrapPath(t *testing.T) {
	path := BootstrapPath("./work", devicespec.VariantDesktop, devicespec.ArchArm64)
	assert.Equal(t, filepath.Join("work", "bootstrap", "desktop-arm64"), path)
}

func TestBootstrapIsCached(t *testing.T) {
	root := t.TempDir()
	assert.False(t, BootstrapIsCached(root))

	etcDir := filepath.Join(root, "etc")
	require.NoError(t, os.MkdirAll(etcDir, 0o755))

	osRelease := filepath.Join(etcDir, "os-release")
	require.NoError(t, os.WriteFile(osRelease, []byte("PRETTY_NAME=\"AOSC OS\"\n"), 0o644))
	assert.False(t, BootstrapIsCached(root), "os-release without an ID is a torn bootstrap")

	content := "NAME=\"AOSC OS\"\nID=aosc\nANSI_COLOR=\"1;36\"\n"
	require.NoError(t, os.WriteFile(osRelease, []byte(content), 0o644))
	assert.True(t, BootstrapIsCached(root))
}

func TestManagerSelection(t *testing.T) {
	native := devicespec.NativeArch()
	if native == "" {
		t.Skip("running on an unsupported host architecture")
	}

	manager, err := managerFor(devicespec.DistroAOSC, native)
	require.NoError(t, err)
	assert.IsType(t, omaManager{}, manager)

	foreign := devicespec.ArchRiscv64
	if native == devicespec.ArchRiscv64 {
		foreign = devicespec.ArchMips64r6el
	}
	manager, err = managerFor(devicespec.DistroAOSC, foreign)
	require.NoError(t, err)
	assert.IsType(t, aptManager{}, manager)

	_, err = managerFor(devicespec.DistroFedora, native)
	assert.ErrorContains(t, err, "not implemented")
}
