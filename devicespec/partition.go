package devicespec

import (
	"fmt"

	"github.com/google/uuid"
)

// Partition describes one partition of the target image.
//
// SizeInSectors may be 0 on the last partition to consume the remaining
// space. StartSector, when unset, is resolved by the layout engine.
type Partition struct {
	Num           uint32         `toml:"num"`
	Type          PartitionType  `toml:"type"`
	TypeByte      *byte          `toml:"byte"`
	TypeUUID      string         `toml:"uuid"`
	StartSector   *uint64        `toml:"start_sector"`
	SizeInSectors uint64         `toml:"size_in_sectors"`
	Label         string         `toml:"label"`
	Mountpoint    string         `toml:"mountpoint"`
	Filesystem    FilesystemType `toml:"filesystem"`
	MountOpts     []string       `toml:"mount_opts"`
	FsLabel       string         `toml:"fs_label"`
	Usage         PartitionUsage `toml:"usage"`
}

// MBRType resolves the single-byte partition type recorded in an MBR table.
func (p *Partition) MBRType() (byte, error) {
	switch p.Type {
	case PartitionTypeEFI:
		return PartTypeEFIByte, nil
	case PartitionTypeLinux:
		return PartTypeLinuxByte, nil
	case PartitionTypeSwap:
		return PartTypeSwapByte, nil
	case PartitionTypeBasic:
		return PartTypeBasicByte, nil
	case PartitionTypeByte:
		if p.TypeByte == nil {
			return 0, fmt.Errorf("partition %d has type \"byte\" but no byte value", p.Num)
		}
		for _, ext := range extendedMBRTypes {
			if *p.TypeByte == ext {
				return 0, fmt.Errorf("extended partitions are not allowed")
			}
		}
		return *p.TypeByte, nil
	case PartitionTypeUUID:
		return 0, fmt.Errorf("can not use a GPT type GUID in an MBR partition table")
	case PartitionTypeNested:
		return 0, fmt.Errorf("nested partition tables are not supported")
	default:
		return 0, fmt.Errorf("invalid partition type (%s)", p.Type)
	}
}

// GPTType resolves the type GUID recorded in a GPT table.
func (p *Partition) GPTType() (uuid.UUID, error) {
	switch p.Type {
	case PartitionTypeEFI:
		return PartTypeEFIUUID, nil
	case PartitionTypeLinux:
		return PartTypeLinuxUUID, nil
	case PartitionTypeSwap:
		return PartTypeSwapUUID, nil
	case PartitionTypeBasic:
		return PartTypeBasicUUID, nil
	case PartitionTypeUUID:
		parsed, err := uuid.Parse(p.TypeUUID)
		if err != nil {
			return uuid.UUID{}, fmt.Errorf("partition %d has an invalid type GUID (%s):\n%w",
				p.Num, p.TypeUUID, err)
		}
		return parsed, nil
	case PartitionTypeByte:
		return uuid.UUID{}, fmt.Errorf("can not use an MBR type byte in a GPT partition table")
	case PartitionTypeNested:
		return uuid.UUID{}, fmt.Errorf("nested partition tables are not supported")
	default:
		return uuid.UUID{}, fmt.Errorf("invalid partition type (%s)", p.Type)
	}
}

func (p *Partition) IsValid(tableType TableType) error {
	if p.Num == 0 {
		return fmt.Errorf("partition numbers should start from 1")
	}

	if err := p.Type.IsValid(); err != nil {
		return err
	}
	if p.Type == PartitionTypeSwap || p.Usage == PartitionUsageSwap {
		return fmt.Errorf("swap partitions are not allowed on raw images")
	}
	if err := p.Usage.IsValid(); err != nil {
		return err
	}
	if err := p.Filesystem.IsValid(); err != nil {
		return err
	}

	if p.StartSector != nil && *p.StartSector <= 33 {
		return fmt.Errorf("starting sector of partition %d overlaps the partition table itself", p.Num)
	}

	// Make sure the type identifier resolves for the table in use.
	switch tableType {
	case TableTypeMBR:
		if _, err := p.MBRType(); err != nil {
			return err
		}
	case TableTypeGPT:
		if _, err := p.GPTType(); err != nil {
			return err
		}
	}

	if p.Label != "" {
		if tableType == TableTypeMBR {
			return fmt.Errorf(
				"MBR partition map does not allow partition labels, found one in partition %d", p.Num)
		}
		if len(p.Label) > 35 {
			return fmt.Errorf("label for partition %d exceeds the 35-character limit", p.Num)
		}
	}

	if err := p.Filesystem.CheckLabel(p.FsLabel); err != nil {
		return err
	}

	if p.Usage == PartitionUsageRootfs && p.Mountpoint != "/" {
		return fmt.Errorf("root partition must have a mountpoint '/'")
	}

	return nil
}
