package devicespec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionTypeEspAlias(t *testing.T) {
	var partType PartitionType
	err := partType.UnmarshalText([]byte("esp"))
	assert.NoError(t, err)
	assert.Equal(t, PartitionTypeEFI, partType)
}

func TestPartitionTypeInvalidValue(t *testing.T) {
	var partType PartitionType
	err := partType.UnmarshalText([]byte("whatever"))
	assert.ErrorContains(t, err, "invalid partition type value (whatever)")
}

func TestPartitionMBRTypeWellKnown(t *testing.T) {
	part := Partition{Num: 1, Type: PartitionTypeEFI}
	b, err := part.MBRType()
	assert.NoError(t, err)
	assert.Equal(t, PartTypeEFIByte, b)

	part.Type = PartitionTypeLinux
	b, err = part.MBRType()
	assert.NoError(t, err)
	assert.Equal(t, PartTypeLinuxByte, b)
}

func TestPartitionMBRTypeExtendedRejected(t *testing.T) {
	for _, extType := range []byte{0x05, 0x0F, 0x85, 0xC5} {
		extType := extType
		part := Partition{Num: 1, Type: PartitionTypeByte, TypeByte: &extType}
		_, err := part.MBRType()
		assert.ErrorContains(t, err, "extended partitions are not allowed")
	}
}

func TestPartitionMBRTypeArbitraryByte(t *testing.T) {
	typeByte := byte(0x0C)
	part := Partition{Num: 1, Type: PartitionTypeByte, TypeByte: &typeByte}
	b, err := part.MBRType()
	assert.NoError(t, err)
	assert.Equal(t, byte(0x0C), b)
}

func TestPartitionGPTTypeWellKnown(t *testing.T) {
	part := Partition{Num: 1, Type: PartitionTypeEFI}
	guid, err := part.GPTType()
	assert.NoError(t, err)
	assert.Equal(t, PartTypeEFIUUID, guid)
}

func TestPartitionGPTTypeCustomGUID(t *testing.T) {
	part := Partition{
		Num:      1,
		Type:     PartitionTypeUUID,
		TypeUUID: "933AC7E1-2EB4-4F13-B844-0E14E2AEF915",
	}
	guid, err := part.GPTType()
	assert.NoError(t, err)
	assert.Equal(t, "933ac7e1-2eb4-4f13-b844-0e14e2aef915", guid.String())
}

func TestPartitionGPTTypeFromByteRejected(t *testing.T) {
	typeByte := byte(0x0C)
	part := Partition{Num: 1, Type: PartitionTypeByte, TypeByte: &typeByte}
	_, err := part.GPTType()
	assert.ErrorContains(t, err, "can not use an MBR type byte")
}

func TestPartitionNestedTableRejected(t *testing.T) {
	part := Partition{Num: 1, Type: PartitionTypeNested}
	assert.NoError(t, part.Type.IsValid())

	_, err := part.MBRType()
	assert.ErrorContains(t, err, "nested partition tables are not supported")

	_, err = part.GPTType()
	assert.ErrorContains(t, err, "nested partition tables are not supported")
}

func TestPartitionSwapRejected(t *testing.T) {
	part := Partition{Num: 1, Type: PartitionTypeSwap, Filesystem: FilesystemTypeNone}
	err := part.IsValid(TableTypeGPT)
	assert.ErrorContains(t, err, "swap partitions are not allowed")

	part = Partition{Num: 1, Type: PartitionTypeLinux, Usage: PartitionUsageSwap}
	err = part.IsValid(TableTypeGPT)
	assert.ErrorContains(t, err, "swap partitions are not allowed")
}

func TestPartitionStartSectorOverlapsTable(t *testing.T) {
	start := uint64(33)
	part := Partition{
		Num:         1,
		Type:        PartitionTypeLinux,
		Usage:       PartitionUsageData,
		StartSector: &start,
	}
	err := part.IsValid(TableTypeGPT)
	assert.ErrorContains(t, err, "overlaps the partition table")
}

func TestPartitionLabelOnMBRRejected(t *testing.T) {
	part := Partition{
		Num:   1,
		Type:  PartitionTypeLinux,
		Usage: PartitionUsageData,
		Label: "Root",
	}
	err := part.IsValid(TableTypeMBR)
	assert.ErrorContains(t, err, "MBR partition map does not allow partition labels")
}

func TestPartitionLabelTooLong(t *testing.T) {
	part := Partition{
		Num:   1,
		Type:  PartitionTypeLinux,
		Usage: PartitionUsageData,
		Label: "0123456789012345678901234567890123456789",
	}
	err := part.IsValid(TableTypeGPT)
	assert.ErrorContains(t, err, "35-character limit")
}

func TestFilesystemFatLabelLimits(t *testing.T) {
	err := FilesystemTypeFat32.CheckLabel("EFI")
	assert.NoError(t, err)

	err = FilesystemTypeFat32.CheckLabel("TOOLONGLABEL")
	assert.ErrorContains(t, err, "11 characters")

	err = FilesystemTypeFat16.CheckLabel("систем")
	assert.ErrorContains(t, err, "ASCII")
}

func TestFilesystemOSFstype(t *testing.T) {
	fstype, err := FilesystemTypeFat16.OSFstype()
	assert.NoError(t, err)
	assert.Equal(t, "vfat", fstype)

	fstype, err = FilesystemTypeExt4.OSFstype()
	assert.NoError(t, err)
	assert.Equal(t, "ext4", fstype)

	_, err = FilesystemTypeNone.OSFstype()
	assert.Error(t, err)
}
