package devicespec

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDeviceToml = `
id = "rpi-5b"
vendor = "raspberrypi"
name = "Raspberry Pi 5 Model B"
arch = "arm64"
compatible = "raspberrypi,5-model-b"
bsp_packages = ["linux-kernel-rpi64", "rpi-firmware-boot"]
partition_map = "gpt"
num_partitions = 2

[size]
base = 6144
desktop = 22528
server = 6144

[[partition]]
num = 1
type = "esp"
size_in_sectors = 614400
filesystem = "fat32"
fs_label = "BOOT"
mountpoint = "/boot/rpi"
usage = "boot"

[[partition]]
num = 2
type = "linux"
size_in_sectors = 0
filesystem = "ext4"
mountpoint = "/"
usage = "rootfs"
`

func writeDeviceToml(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "device.toml")
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)
	return path
}

func TestLoadValidDevice(t *testing.T) {
	path := writeDeviceToml(t, validDeviceToml)

	device, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "rpi-5b", device.ID)
	assert.Equal(t, ArchArm64, device.Arch)
	assert.Equal(t, TableTypeGPT, device.PartitionMap)
	require.Len(t, device.Partitions, 2)
	assert.Equal(t, PartitionTypeEFI, device.Partitions[0].Type)
	assert.Equal(t, uint64(614400), device.Partitions[0].SizeInSectors)

	rootfs := device.RootfsPartition()
	require.NotNil(t, rootfs)
	assert.Equal(t, uint32(2), rootfs.Num)

	assert.Equal(t, uint64(6144), device.Size.SizeMiB(VariantBase))
	assert.Equal(t, uint64(22528), device.Size.SizeMiB(VariantDesktop))
}

func TestLoadDeviceFirstbootFields(t *testing.T) {
	content := strings.Replace(validDeviceToml, "num_partitions = 2",
		"num_partitions = 2\ndevena_firstboot_target = \"rpi\"\noobe_wizard = true", 1)
	path := writeDeviceToml(t, content)

	device, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "rpi", device.FirstbootTarget)
	assert.True(t, device.OobeWizard)
}

func TestLoadDeviceDosAlias(t *testing.T) {
	content := `
id = "testdev"
vendor = "acme"
name = "Test Device"
arch = "amd64"
partition_map = "dos"
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
	path := writeDeviceToml(t, content)

	device, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, TableTypeMBR, device.PartitionMap)
}

func TestCheckNumPartitionsMismatch(t *testing.T) {
	device := validTestDevice()
	device.NumPartitions = 3
	err := device.Check()
	assert.ErrorContains(t, err, "num_partitions")
}

func TestCheckForbiddenCharacters(t *testing.T) {
	device := validTestDevice()
	device.ID = "rpi/5b"
	err := device.Check()
	assert.ErrorContains(t, err, "contains one of the following characters")

	device = validTestDevice()
	device.ID = "устройство"
	err = device.Check()
	assert.ErrorContains(t, err, "non-ASCII")
}

func TestCheckDuplicatePartitionNum(t *testing.T) {
	device := validTestDevice()
	device.Partitions[1].Num = 1
	err := device.Check()
	assert.ErrorContains(t, err, "duplicate partition number")
}

func TestCheckPartitionOrder(t *testing.T) {
	device := validTestDevice()
	device.Partitions[0].Num = 2
	device.Partitions[1].Num = 1
	device.Partitions[1].Usage = PartitionUsageData
	device.Partitions[1].Mountpoint = "/data"
	device.Partitions[0].Usage = PartitionUsageRootfs
	device.Partitions[0].Mountpoint = "/"
	err := device.Check()
	assert.ErrorContains(t, err, "in order")
}

func TestCheckMBRTooManyPartitions(t *testing.T) {
	device := validTestDevice()
	device.PartitionMap = TableTypeMBR
	device.Partitions = nil
	for i := uint32(1); i <= 5; i++ {
		usage := PartitionUsageData
		mountpoint := ""
		if i == 1 {
			usage = PartitionUsageRootfs
			mountpoint = "/"
		}
		device.Partitions = append(device.Partitions, Partition{
			Num:           i,
			Type:          PartitionTypeLinux,
			SizeInSectors: 2048,
			Filesystem:    FilesystemTypeExt4,
			Mountpoint:    mountpoint,
			Usage:         usage,
		})
	}
	device.NumPartitions = 5
	err := device.Check()
	assert.ErrorContains(t, err, "up to 4 partitions")
}

func TestCheckNoRootPartition(t *testing.T) {
	device := validTestDevice()
	device.Partitions[1].Usage = PartitionUsageData
	device.Partitions[1].Mountpoint = "/data"
	err := device.Check()
	assert.ErrorContains(t, err, "no root partition")
}

func TestCheckMultipleRootPartitions(t *testing.T) {
	device := validTestDevice()
	device.Partitions[0].Usage = PartitionUsageRootfs
	device.Partitions[0].Mountpoint = "/"
	err := device.Check()
	assert.ErrorContains(t, err, "more than one root partition")
}

func TestCheckBootloaderScriptMissing(t *testing.T) {
	device := validTestDevice()
	device.Bootloaders = []Bootloader{
		{Type: BootloaderTypeScript, Name: "apply-bootloader.sh"},
	}
	err := device.Check()
	assert.ErrorContains(t, err, "not found within the same directory")
}

func TestCheckBootloaderFlashPartitionWithFilesystem(t *testing.T) {
	device := validTestDevice()
	device.Bootloaders = []Bootloader{
		{Type: BootloaderTypeFlashPartition, Path: "/usr/lib/u-boot/idbloader.img", Partition: 2},
	}
	err := device.Check()
	assert.ErrorContains(t, err, "active filesystem")
}

func TestCheckBootloaderFlashOffsetTooLow(t *testing.T) {
	device := validTestDevice()
	device.Bootloaders = []Bootloader{
		{Type: BootloaderTypeFlashOffset, Path: "/usr/lib/u-boot/u-boot.bin", Offset: 512},
	}
	err := device.Check()
	assert.ErrorContains(t, err, "overlaps the partition table")
}

func TestCheckBootloaderFlashOffsetAtFloor(t *testing.T) {
	device := validTestDevice()
	device.Bootloaders = []Bootloader{
		{Type: BootloaderTypeFlashOffset, Path: "/usr/lib/u-boot/u-boot.bin", Offset: 17408},
	}
	err := device.Check()
	assert.NoError(t, err)
}

func validTestDevice() *Device {
	return &Device{
		ID:            "testdev",
		Vendor:        "acme",
		Name:          "Test Device",
		Arch:          ArchArm64,
		PartitionMap:  TableTypeGPT,
		NumPartitions: 2,
		Size:          VariantSizes{Base: 1024, Desktop: 2048, Server: 1024},
		FilePath:      "/nonexistent/device.toml",
		Partitions: []Partition{
			{
				Num:           1,
				Type:          PartitionTypeEFI,
				SizeInSectors: 614400,
				Filesystem:    FilesystemTypeFat32,
				Mountpoint:    "/efi",
				Usage:         PartitionUsageBoot,
			},
			{
				Num:           2,
				Type:          PartitionTypeLinux,
				SizeInSectors: 0,
				Filesystem:    FilesystemTypeExt4,
				Mountpoint:    "/",
				Usage:         PartitionUsageRootfs,
			},
		},
	}
}
