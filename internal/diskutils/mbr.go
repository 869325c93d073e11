package diskutils

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/logger"
)

const (
	mbrSignatureOffset = 440
	mbrEntryTableStart = 446
	mbrEntrySize       = 16

	mbrBootActive   = 0x80
	mbrBootInactive = 0x00
)

// WriteMBRTable writes a classic MBR partition table onto the image.
// Returns the random disk signature as an 8-digit hex string and fills in
// each partition's PARTUUID ("{signature}-{index:02x}").
//
// CHS fields are left empty; every consumer of these images is LBA-only.
func WriteMBRTable(imagePath string, totalSectors uint64, sectorSize uint64, placed []PlacedPartition,
) (string, error) {
	disk, err := os.OpenFile(imagePath, os.O_WRONLY, 0)
	if err != nil {
		return "", fmt.Errorf("failed to open disk (%s):\n%w", imagePath, err)
	}
	defer disk.Close()

	var signatureBytes [4]byte
	_, err = rand.Read(signatureBytes[:])
	if err != nil {
		return "", fmt.Errorf("failed to generate a disk signature:\n%w", err)
	}
	signature := binary.LittleEndian.Uint32(signatureBytes[:])
	signatureStr := fmt.Sprintf("%08x", signature)

	logger.Log.Infof("Created a MBR table on (%s)", imagePath)
	logger.Log.Infof("Disk signature: %X-%X", uint16(signature>>16), uint16(signature&0xFFFF))

	sector := make([]byte, sectorSize)
	binary.LittleEndian.PutUint32(sector[mbrSignatureOffset:mbrSignatureOffset+4], signature)

	for i := range placed {
		partition := &placed[i]

		if partition.Spec.Num > 4 {
			return "", fmt.Errorf("extended and logical partitions are not supported")
		}

		typeByte, err := partition.Spec.MBRType()
		if err != nil {
			return "", err
		}

		boot := byte(mbrBootInactive)
		if partition.Spec.Usage == devicespec.PartitionUsageBoot {
			boot = mbrBootActive
		}

		offset := mbrEntryTableStart + (partition.Spec.Num-1)*mbrEntrySize
		entry := sector[offset : offset+mbrEntrySize]
		entry[0] = boot
		// entry[1:4] and entry[5:8] stay zero (empty CHS)
		entry[4] = typeByte
		binary.LittleEndian.PutUint32(entry[8:12], uint32(partition.StartLBA))
		binary.LittleEndian.PutUint32(entry[12:16], uint32(partition.Sectors))

		partition.PartUUID = fmt.Sprintf("%s-%02x", signatureStr, partition.Spec.Num)

		logger.Log.Infof("Creating a %s partition", partition.Spec.Type)
		logger.Log.Infof("Size in LBA: %d, Start = %d, End = %d",
			partition.Sectors, partition.StartLBA, partition.EndLBA())
	}

	sector[510] = 0x55
	sector[511] = 0xAA

	_, err = disk.WriteAt(sector, 0)
	if err != nil {
		return "", fmt.Errorf("failed to write partition table to (%s):\n%w", imagePath, err)
	}

	err = disk.Sync()
	if err != nil {
		return "", fmt.Errorf("failed to sync partition table to (%s):\n%w", imagePath, err)
	}

	return signatureStr, nil
}

// ReadMBRTable parses the MBR of the image, returning the disk signature and
// the four primary entries (16 bytes each).
func ReadMBRTable(imagePath string, sectorSize uint64) (string, [][]byte, error) {
	disk, err := os.Open(imagePath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open disk (%s):\n%w", imagePath, err)
	}
	defer disk.Close()

	sector := make([]byte, sectorSize)
	_, err = disk.ReadAt(sector, 0)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read MBR:\n%w", err)
	}

	if sector[510] != 0x55 || sector[511] != 0xAA {
		return "", nil, fmt.Errorf("no MBR boot signature found on (%s)", imagePath)
	}

	signature := binary.LittleEndian.Uint32(sector[mbrSignatureOffset : mbrSignatureOffset+4])

	entries := [][]byte(nil)
	for i := 0; i < 4; i++ {
		offset := mbrEntryTableStart + i*mbrEntrySize
		entries = append(entries, sector[offset:offset+mbrEntrySize])
	}
	return fmt.Sprintf("%08x", signature), entries, nil
}
