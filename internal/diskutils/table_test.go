package diskutils

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosc-dev/mkrawimg/devicespec"
)

// 64 MiB keeps the sparse test images cheap.
const testImageSectors = uint64(64 * MiB / 512)

func createTestImage(t *testing.T) string {
	t.Helper()
	imagePath := filepath.Join(t.TempDir(), "test.img")
	err := CreateSparseDisk(imagePath, testImageSectors*512)
	require.NoError(t, err)
	return imagePath
}

func testPlacements(t *testing.T, tableType devicespec.TableType) []PlacedPartition {
	t.Helper()
	device := gptTestDevice(
		devicespec.Partition{
			Num:           1,
			Type:          devicespec.PartitionTypeEFI,
			SizeInSectors: 8192,
			Usage:         devicespec.PartitionUsageBoot,
		},
		devicespec.Partition{
			Num:        2,
			Type:       devicespec.PartitionTypeLinux,
			Mountpoint: "/",
			Usage:      devicespec.PartitionUsageRootfs,
		},
	)
	device.PartitionMap = tableType
	if tableType == devicespec.TableTypeGPT {
		device.Partitions[1].Label = "Root"
	}

	placed, err := PlacePartitions(device, testImageSectors, 512)
	require.NoError(t, err)
	return placed
}

func TestWriteGPTTableRoundTrip(t *testing.T) {
	imagePath := createTestImage(t)
	placed := testPlacements(t, devicespec.TableTypeGPT)

	diskGUID, err := WriteGPTTable(imagePath, testImageSectors, 512, placed)
	require.NoError(t, err)
	assert.Len(t, diskGUID, 36)
	assert.NotEmpty(t, placed[0].PartUUID)
	assert.NotEmpty(t, placed[1].PartUUID)
	assert.NotEqual(t, placed[0].PartUUID, placed[1].PartUUID)

	readGUID, entries, err := ReadGPTHeader(imagePath, 512)
	require.NoError(t, err)
	assert.Equal(t, diskGUID, readGUID)
	require.Len(t, entries, 128)

	entry1 := entries[0]
	typeGUID := guidFromBytesLE([16]byte(entry1[0:16]))
	assert.Equal(t, devicespec.PartTypeEFIUUID, typeGUID)
	partGUID := guidFromBytesLE([16]byte(entry1[16:32]))
	assert.Equal(t, placed[0].PartUUID, partGUID.String())
	assert.Equal(t, uint64(2048), binary.LittleEndian.Uint64(entry1[32:40]))
	assert.Equal(t, uint64(2048+8192-1), binary.LittleEndian.Uint64(entry1[40:48]))

	entry2 := entries[1]
	// "Root" in UTF-16LE
	assert.Equal(t, []byte{'R', 0, 'o', 0, 'o', 0, 't', 0}, entry2[56:64])

	// Unused entries stay zeroed.
	assert.Equal(t, make([]byte, 128), entries[5])
}

func TestWriteGPTTableProtectiveMBR(t *testing.T) {
	imagePath := createTestImage(t)
	placed := testPlacements(t, devicespec.TableTypeGPT)

	_, err := WriteGPTTable(imagePath, testImageSectors, 512, placed)
	require.NoError(t, err)

	image, err := os.Open(imagePath)
	require.NoError(t, err)
	defer image.Close()

	sector := make([]byte, 512)
	_, err = image.ReadAt(sector, 0)
	require.NoError(t, err)

	assert.Equal(t, byte(0x55), sector[510])
	assert.Equal(t, byte(0xAA), sector[511])
	assert.Equal(t, byte(0xEE), sector[446+4])
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(sector[446+8:446+12]))
	assert.Equal(t, uint32(testImageSectors-1), binary.LittleEndian.Uint32(sector[446+12:446+16]))
}

func TestGUIDMixedEndianEncoding(t *testing.T) {
	guid := devicespec.PartTypeEFIUUID // C12A7328-F81F-11D2-BA4B-00A0C93EC93B
	raw := guidToBytesLE(guid)
	expected := [16]byte{
		0x28, 0x73, 0x2A, 0xC1,
		0x1F, 0xF8,
		0xD2, 0x11,
		0xBA, 0x4B, 0x00, 0xA0, 0xC9, 0x3E, 0xC9, 0x3B,
	}
	assert.Equal(t, expected, raw)
	assert.Equal(t, guid, guidFromBytesLE(raw))
}

func TestWriteMBRTableRoundTrip(t *testing.T) {
	imagePath := createTestImage(t)
	placed := testPlacements(t, devicespec.TableTypeMBR)

	signature, err := WriteMBRTable(imagePath, testImageSectors, 512, placed)
	require.NoError(t, err)
	assert.Len(t, signature, 8)
	assert.Equal(t, signature+"-01", placed[0].PartUUID)
	assert.Equal(t, signature+"-02", placed[1].PartUUID)

	readSignature, entries, err := ReadMBRTable(imagePath, 512)
	require.NoError(t, err)
	assert.Equal(t, signature, readSignature)

	entry1 := entries[0]
	// Boot usage sets the active flag.
	assert.Equal(t, byte(0x80), entry1[0])
	assert.Equal(t, devicespec.PartTypeEFIByte, entry1[4])
	assert.Equal(t, uint32(2048), binary.LittleEndian.Uint32(entry1[8:12]))
	assert.Equal(t, uint32(8192), binary.LittleEndian.Uint32(entry1[12:16]))

	entry2 := entries[1]
	assert.Equal(t, byte(0x00), entry2[0])
	assert.Equal(t, devicespec.PartTypeLinuxByte, entry2[4])

	// Entries 3 and 4 stay empty.
	assert.Equal(t, make([]byte, 16), entries[2])
	assert.Equal(t, make([]byte, 16), entries[3])
}

func TestWriteMBRLabelNotWritten(t *testing.T) {
	// MBR has no place for labels; the writer must not be handed any.
	placed := testPlacements(t, devicespec.TableTypeMBR)
	for _, p := range placed {
		assert.Empty(t, p.Spec.Label)
	}
}

func TestMkfsArgs(t *testing.T) {
	command, args, err := MkfsArgs(devicespec.FilesystemTypeExt4, "/dev/loop0p2", "Root")
	assert.NoError(t, err)
	assert.Equal(t, "mkfs.ext4", command)
	assert.Equal(t, []string{"-L", "Root", "--", "/dev/loop0p2"}, args)

	command, args, err = MkfsArgs(devicespec.FilesystemTypeFat32, "/dev/loop0p1", "EFI")
	assert.NoError(t, err)
	assert.Equal(t, "mkfs.vfat", command)
	assert.Equal(t, []string{"-F", "32", "-n", "EFI", "--", "/dev/loop0p1"}, args)

	command, args, err = MkfsArgs(devicespec.FilesystemTypeXfs, "/dev/loop0p3", "")
	assert.NoError(t, err)
	assert.Equal(t, "mkfs.xfs", command)
	assert.Equal(t, []string{"--", "/dev/loop0p3"}, args)

	_, _, err = MkfsArgs(devicespec.FilesystemTypeNone, "/dev/loop0p4", "")
	assert.Error(t, err)

	_, _, err = MkfsArgs(devicespec.FilesystemTypeFat16, "/dev/loop0p1", "TOOLONGLABEL")
	assert.Error(t, err)
}
