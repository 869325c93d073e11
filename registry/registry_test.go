package registry

import (
	"fmt"
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

const deviceTomlTemplate = `
id = "%s"
vendor = "acme"
name = "%s"
arch = "arm64"
%s
partition_map = "gpt"
num_partitions = 1

[size]
base = 1024
desktop = 1024
server = 1024

[[partition]]
num = 1
type = "linux"
size_in_sectors = 0
filesystem = "ext4"
mountpoint = "/"
usage = "rootfs"
`

func writeDevice(t *testing.T, root, subdir, id, extra string) string {
	t.Helper()
	dir := filepath.Join(root, subdir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "device.toml")
	content := fmt.Sprintf(deviceTomlTemplate, id, "Device "+id, extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanFindsNestedDevices(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "arm64/acme/alpha", "alpha", "")
	writeDevice(t, root, "arm64/acme/beta", "beta", `aliases = ["b1"]`)

	registry, err := Scan(root)
	require.NoError(t, err)
	assert.Len(t, registry.Devices(), 2)

	device, err := registry.Lookup("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", device.ID)

	device, err = registry.Lookup("b1")
	require.NoError(t, err)
	assert.Equal(t, "beta", device.ID)
}

func TestScanRejectsDuplicateID(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "a/one", "same", "")
	writeDevice(t, root, "b/two", "same", "")

	_, err := Scan(root)
	assert.ErrorContains(t, err, "duplicate device id")
}

func TestScanRejectsDuplicateAlias(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "a/one", "one", `aliases = ["shared"]`)
	writeDevice(t, root, "b/two", "two", `aliases = ["shared"]`)

	_, err := Scan(root)
	assert.ErrorContains(t, err, "duplicate device alias")
}

func TestScanSkipsTooDeepDirectories(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "a/b/c/d/e", "buried", "")

	registry, err := Scan(root)
	require.NoError(t, err)
	assert.Empty(t, registry.Devices())
}

func TestLookupUnknownDevice(t *testing.T) {
	root := t.TempDir()
	registry, err := Scan(root)
	require.NoError(t, err)

	_, err = registry.Lookup("missing")
	assert.ErrorContains(t, err, "not found in the registry")
}

func TestResolveByPath(t *testing.T) {
	root := t.TempDir()
	specPath := writeDevice(t, root, "arm64/acme/alpha", "alpha", "")

	registry, err := Scan(root)
	require.NoError(t, err)

	// Path to the file itself.
	device, err := registry.Resolve(specPath)
	require.NoError(t, err)
	assert.Equal(t, "alpha", device.ID)

	// Path to the containing directory.
	device, err = registry.Resolve(filepath.Dir(specPath))
	require.NoError(t, err)
	assert.Equal(t, "alpha", device.ID)
}

func TestListSimple(t *testing.T) {
	root := t.TempDir()
	writeDevice(t, root, "a/alpha", "alpha", "")
	writeDevice(t, root, "b/beta", "beta", "")

	registry, err := Scan(root)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", registry.ListSimple())
}

func TestMissingRegistryDir(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorContains(t, err, "does not exist")
}
