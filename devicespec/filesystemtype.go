package devicespec

import "fmt"

// FilesystemType is the filesystem a partition is formatted with.
// FilesystemTypeNone leaves the partition unformatted.
type FilesystemType string

const (
	FilesystemTypeExt4  FilesystemType = "ext4"
	FilesystemTypeXfs   FilesystemType = "xfs"
	FilesystemTypeBtrfs FilesystemType = "btrfs"
	FilesystemTypeFat16 FilesystemType = "fat16"
	FilesystemTypeFat32 FilesystemType = "fat32"
	FilesystemTypeNone  FilesystemType = "none"
)

const (
	fatLabelMaxLen = 11
	labelMaxLen    = 63
)

func (t FilesystemType) IsValid() error {
	switch t {
	case FilesystemTypeExt4, FilesystemTypeXfs, FilesystemTypeBtrfs, FilesystemTypeFat16,
		FilesystemTypeFat32, FilesystemTypeNone, "":
		return nil
	default:
		return fmt.Errorf("invalid filesystem value (%s)", t)
	}
}

func (t *FilesystemType) UnmarshalText(text []byte) error {
	value := FilesystemType(text)
	if err := value.IsValid(); err != nil {
		return err
	}
	*t = value
	return nil
}

// IsFat reports whether the filesystem is a FAT variant.
func (t FilesystemType) IsFat() bool {
	return t == FilesystemTypeFat16 || t == FilesystemTypeFat32
}

// OSFstype returns the filesystem type name the kernel and fstab use.
func (t FilesystemType) OSFstype() (string, error) {
	switch t {
	case FilesystemTypeExt4:
		return "ext4", nil
	case FilesystemTypeXfs:
		return "xfs", nil
	case FilesystemTypeBtrfs:
		return "btrfs", nil
	case FilesystemTypeFat16, FilesystemTypeFat32:
		return "vfat", nil
	default:
		return "", fmt.Errorf("filesystem type (%s) has no kernel filesystem name", t)
	}
}

// CheckLabel validates a volume label against the filesystem's limits.
func (t FilesystemType) CheckLabel(label string) error {
	if label == "" {
		return nil
	}
	if t.IsFat() {
		for _, c := range label {
			if c > 127 {
				return fmt.Errorf("FAT volume label can only contain ASCII characters")
			}
		}
		if len(label) > fatLabelMaxLen {
			return fmt.Errorf("FAT volume labels can not be longer than %d characters", fatLabelMaxLen)
		}
		return nil
	}
	if len(label) > labelMaxLen {
		return fmt.Errorf("filesystem labels are limited to up to %d bytes", labelMaxLen)
	}
	return nil
}
