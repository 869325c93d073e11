package devicespec

import "fmt"

// PartitionUsage describes what a partition is for. The usage decides which
// environment variables a partition's identifiers are exported under and
// which partition receives the extracted system distribution.
type PartitionUsage string

const (
	PartitionUsageBoot   PartitionUsage = "boot"
	PartitionUsageRootfs PartitionUsage = "rootfs"
	PartitionUsageSwap   PartitionUsage = "swap"
	PartitionUsageData   PartitionUsage = "data"
	PartitionUsageOther  PartitionUsage = "other"
)

func (u PartitionUsage) IsValid() error {
	switch u {
	case PartitionUsageBoot, PartitionUsageRootfs, PartitionUsageSwap, PartitionUsageData,
		PartitionUsageOther:
		return nil
	default:
		return fmt.Errorf("invalid partition usage value (%s)", u)
	}
}

func (u *PartitionUsage) UnmarshalText(text []byte) error {
	value := PartitionUsage(text)
	if err := value.IsValid(); err != nil {
		return err
	}
	*u = value
	return nil
}
