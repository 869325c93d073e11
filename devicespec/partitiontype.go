package devicespec

import (
	"fmt"

	"github.com/google/uuid"
)

// PartitionType selects the type identifier recorded in the partition table.
// The named values map to well-known identifiers; "byte" and "uuid" carry an
// explicit identifier in the partition's Byte or UUID field.
type PartitionType string

const (
	PartitionTypeEFI   PartitionType = "efi"
	PartitionTypeLinux PartitionType = "linux"
	PartitionTypeSwap  PartitionType = "swap"
	PartitionTypeBasic PartitionType = "basic"
	PartitionTypeByte  PartitionType = "byte"
	PartitionTypeUUID  PartitionType = "uuid"
	// PartitionTypeNested is accepted by the parser but rejected whenever a
	// table identifier is resolved.
	PartitionTypeNested PartitionType = "nested"
)

// Well-known GPT partition type GUIDs.
var (
	PartTypeEFIUUID   = uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")
	PartTypeLinuxUUID = uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4")
	PartTypeSwapUUID  = uuid.MustParse("0657FD6D-A4AB-43C4-84E5-0933C84B4F4F")
	PartTypeBasicUUID = uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7")
)

// Well-known MBR partition type bytes.
const (
	PartTypeEFIByte   byte = 0xEF
	PartTypeLinuxByte byte = 0x83
	PartTypeSwapByte  byte = 0x82
	PartTypeBasicByte byte = 0x07
)

// Extended partition containers are rejected outright.
var extendedMBRTypes = []byte{0x05, 0x0F, 0x85, 0xC5}

func (t PartitionType) IsValid() error {
	switch t {
	case PartitionTypeEFI, PartitionTypeLinux, PartitionTypeSwap, PartitionTypeBasic,
		PartitionTypeByte, PartitionTypeUUID, PartitionTypeNested:
		return nil
	default:
		return fmt.Errorf("invalid partition type value (%s)", t)
	}
}

// UnmarshalText accepts "esp" as an alias for "efi".
func (t *PartitionType) UnmarshalText(text []byte) error {
	value := PartitionType(text)
	if value == "esp" {
		value = PartitionTypeEFI
	}
	if err := value.IsValid(); err != nil {
		return err
	}
	*t = value
	return nil
}
