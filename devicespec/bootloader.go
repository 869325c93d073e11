package devicespec

import "fmt"

// BootloaderType selects how a bootloader is applied to the finished image.
type BootloaderType string

const (
	// BootloaderTypeScript runs a script shipped beside the device spec
	// inside the image's root filesystem.
	BootloaderTypeScript BootloaderType = "script"
	// BootloaderTypeFlashPartition writes a bootloader image over an entire
	// partition.
	BootloaderTypeFlashPartition BootloaderType = "flash_partition"
	// BootloaderTypeFlashOffset writes a bootloader image at a fixed byte
	// offset on the disk.
	BootloaderTypeFlashOffset BootloaderType = "flash_offset"
)

// Raw disk writes must land after the GPT header and partition entry array,
// which end at LBA 33.
const MinFlashOffset = 512 * 34

func (t BootloaderType) IsValid() error {
	switch t {
	case BootloaderTypeScript, BootloaderTypeFlashPartition, BootloaderTypeFlashOffset:
		return nil
	default:
		return fmt.Errorf("invalid bootloader type value (%s)", t)
	}
}

func (t *BootloaderType) UnmarshalText(text []byte) error {
	value := BootloaderType(text)
	if err := value.IsValid(); err != nil {
		return err
	}
	*t = value
	return nil
}

// Bootloader describes one bootloader application step. The fields used
// depend on Type: Name for scripts, Path and Partition for flash_partition,
// Path and Offset for flash_offset.
type Bootloader struct {
	Type      BootloaderType `toml:"type"`
	Name      string         `toml:"name"`
	Path      string         `toml:"path"`
	Partition uint32         `toml:"partition"`
	Offset    uint64         `toml:"offset"`
}

func (b *Bootloader) IsValid() error {
	if err := b.Type.IsValid(); err != nil {
		return err
	}

	switch b.Type {
	case BootloaderTypeScript:
		if b.Name == "" {
			return fmt.Errorf("bootloader script entry is missing a name")
		}
	case BootloaderTypeFlashPartition:
		if b.Path == "" {
			return fmt.Errorf("bootloader flash_partition entry is missing a path")
		}
		if b.Partition == 0 {
			return fmt.Errorf("bootloader flash_partition entry is missing a partition number")
		}
	case BootloaderTypeFlashOffset:
		if b.Path == "" {
			return fmt.Errorf("bootloader flash_offset entry is missing a path")
		}
		if b.Offset < MinFlashOffset {
			return fmt.Errorf(
				"bootloader overlaps the partition table, it must start from at least 0x4400 (%d), or LBA 34",
				MinFlashOffset)
		}
	}

	return nil
}
