package diskutils

import (
	"fmt"
	"math"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/logger"
)

const (
	// Partition starts are aligned to 1 MiB to leave room for bootloaders
	// and to keep flash-friendly alignment.
	AlignmentBytes = 1048576

	// GPT keeps 128 partition entries of 128 bytes each.
	gptEntryCount = 128
	gptEntrySize  = 128
)

// Extent is a run of sectors, Start inclusive.
type Extent struct {
	Start   uint64
	Sectors uint64
}

func (e Extent) End() uint64 {
	return e.Start + e.Sectors - 1
}

// PlacedPartition is a partition with its final position on disk resolved.
type PlacedPartition struct {
	Spec     *devicespec.Partition
	StartLBA uint64
	Sectors  uint64

	// PartUUID is filled in when the partition table is written. For GPT it
	// is the partition GUID, for MBR the "{signature}-{index:02x}" form.
	PartUUID string
}

func (p PlacedPartition) EndLBA() uint64 {
	return p.StartLBA + p.Sectors - 1
}

// layout tracks allocated space on a disk while partitions are placed one by
// one, mirroring how a partitioning tool hunts for free spans.
type layout struct {
	sectorSize  uint64
	firstUsable uint64
	lastUsable  uint64
	align       uint64
	allocated   []Extent
}

func newLayout(tableType devicespec.TableType, totalSectors uint64, sectorSize uint64) (*layout, error) {
	if sectorSize == 0 || AlignmentBytes%sectorSize != 0 {
		return nil, fmt.Errorf("unsupported sector size (%d)", sectorSize)
	}

	l := &layout{
		sectorSize: sectorSize,
		align:      AlignmentBytes / sectorSize,
	}

	switch tableType {
	case devicespec.TableTypeGPT:
		// Header at LBA 1 plus the entry array on both ends of the disk.
		arraySectors := (gptEntryCount*gptEntrySize + sectorSize - 1) / sectorSize
		l.firstUsable = 2 + arraySectors
		if totalSectors < 2*(1+arraySectors)+1 {
			return nil, fmt.Errorf("disk is too small for a GPT partition table")
		}
		l.lastUsable = totalSectors - arraySectors - 2
	case devicespec.TableTypeMBR:
		if totalSectors < 2 {
			return nil, fmt.Errorf("disk is too small for an MBR partition table")
		}
		l.firstUsable = 1
		l.lastUsable = totalSectors - 1
	default:
		return nil, fmt.Errorf("invalid partition map value (%s)", tableType)
	}

	return l, nil
}

// freeRanges returns the unallocated spans in ascending order.
func (l *layout) freeRanges() []Extent {
	free := []Extent(nil)
	cursor := l.firstUsable
	for _, ext := range l.allocated {
		if ext.Start > cursor {
			free = append(free, Extent{Start: cursor, Sectors: ext.Start - cursor})
		}
		if next := ext.End() + 1; next > cursor {
			cursor = next
		}
	}
	if cursor <= l.lastUsable {
		free = append(free, Extent{Start: cursor, Sectors: l.lastUsable - cursor + 1})
	}
	return free
}

func alignUp(value uint64, align uint64) uint64 {
	rem := value % align
	if rem == 0 {
		return value
	}
	return value + align - rem
}

// findFirstPlace returns the first aligned start where sectors fit.
func (l *layout) findFirstPlace(sectors uint64) (uint64, error) {
	for _, free := range l.freeRanges() {
		start := alignUp(free.Start, l.align)
		if start > free.End() {
			continue
		}
		if free.End()-start+1 >= sectors {
			return start, nil
		}
	}
	return 0, fmt.Errorf("no suitable free space found for a partition of %d sectors", sectors)
}

// availableFrom returns how many contiguous free sectors lie at start.
func (l *layout) availableFrom(start uint64) (uint64, error) {
	for _, free := range l.freeRanges() {
		if start >= free.Start && start <= free.End() {
			return free.End() - start + 1, nil
		}
	}
	return 0, fmt.Errorf("sector %d is not inside a free range", start)
}

// allocate marks the extent used. The extent must lie entirely within a free
// range.
func (l *layout) allocate(ext Extent) error {
	if ext.Start < l.firstUsable || ext.End() > l.lastUsable {
		return fmt.Errorf("partition (start %d, %d sectors) lies outside the usable disk area (%d-%d)",
			ext.Start, ext.Sectors, l.firstUsable, l.lastUsable)
	}
	for _, used := range l.allocated {
		if ext.Start <= used.End() && used.Start <= ext.End() {
			return fmt.Errorf("partition (start %d, %d sectors) overlaps another partition (start %d, %d sectors)",
				ext.Start, ext.Sectors, used.Start, used.Sectors)
		}
	}

	inserted := false
	allocated := make([]Extent, 0, len(l.allocated)+1)
	for _, used := range l.allocated {
		if !inserted && ext.Start < used.Start {
			allocated = append(allocated, ext)
			inserted = true
		}
		allocated = append(allocated, used)
	}
	if !inserted {
		allocated = append(allocated, ext)
	}
	l.allocated = allocated
	return nil
}

// PlacePartitions resolves the on-disk position of every partition of the
// device, in declaration order.
//
// A partition with size_in_sectors = 0 consumes the remainder of the disk
// and must be the last one. Unless an explicit start_sector is given,
// partition 1 starts at the 1 MiB boundary and later partitions take the
// first aligned free span that fits.
func PlacePartitions(device *devicespec.Device, totalSectors uint64, sectorSize uint64,
) ([]PlacedPartition, error) {
	l, err := newLayout(device.PartitionMap, totalSectors, sectorSize)
	if err != nil {
		return nil, err
	}

	minSectors := AlignmentBytes / sectorSize

	placed := make([]PlacedPartition, 0, len(device.Partitions))
	for i := range device.Partitions {
		partition := &device.Partitions[i]

		if len(l.freeRanges()) == 0 {
			return nil, fmt.Errorf("no more free space available for new partitions")
		}

		sectors := partition.SizeInSectors
		consumeRemainder := sectors == 0
		if consumeRemainder {
			if partition.Num != device.NumPartitions {
				return nil, fmt.Errorf("max sized partition must stay at the end of the table")
			}
			// The real size is resolved once the start is known; use the
			// minimum while hunting for a spot.
			sectors = minSectors
		}
		if sectors < minSectors {
			return nil, fmt.Errorf("partition %d is smaller than the minimum of 1 MiB", partition.Num)
		}

		var startLBA uint64
		switch {
		case partition.StartSector != nil:
			startLBA = *partition.StartSector
		case partition.Num == 1:
			startLBA = minSectors
		default:
			startLBA, err = l.findFirstPlace(sectors)
			if err != nil {
				return nil, err
			}
		}

		if consumeRemainder {
			// Take the rest of the free range, leaving the final sector
			// untouched.
			avail, err := l.availableFrom(startLBA)
			if err != nil {
				return nil, err
			}
			// The resolved size is subject to the same 1 MiB floor as an
			// explicit one.
			sectors = avail - 1
			if sectors < minSectors {
				return nil, fmt.Errorf("not enough free space to create a partition")
			}
		}

		if device.PartitionMap == devicespec.TableTypeMBR {
			if startLBA > math.MaxUint32 || sectors > math.MaxUint32 {
				return nil, fmt.Errorf("partition %d exceeds the limit of MBR", partition.Num)
			}
		}

		ext := Extent{Start: startLBA, Sectors: sectors}
		err = l.allocate(ext)
		if err != nil {
			return nil, fmt.Errorf("failed to place partition %d:\n%w", partition.Num, err)
		}

		logger.Log.Debugf("Placed partition %d: start = %d, sectors = %d, end = %d",
			partition.Num, startLBA, sectors, ext.End())

		placed = append(placed, PlacedPartition{
			Spec:     partition,
			StartLBA: startLBA,
			Sectors:  sectors,
		})
	}

	return placed, nil
}
