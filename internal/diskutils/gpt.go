package diskutils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/aosc-dev/mkrawimg/internal/logger"
)

const (
	gptSignature    = "EFI PART"
	gptRevision     = 0x00010000
	gptHeaderSize   = 92
	gptNameMaxRunes = 36
)

// guidToBytesLE encodes a GUID the way GPT stores it on disk. The first
// three components are little-endian, the last two keep their byte order:
//
//	01020304-0506-0708-090A-0B0C0D0E0F10
//	0000: 04 03 02 01 06 05 08 07
//	0008: 09 0A 0B 0C 0D 0E 0F 10
func guidToBytesLE(guid uuid.UUID) [16]byte {
	var out [16]byte
	out[0], out[1], out[2], out[3] = guid[3], guid[2], guid[1], guid[0]
	out[4], out[5] = guid[5], guid[4]
	out[6], out[7] = guid[7], guid[6]
	copy(out[8:], guid[8:])
	return out
}

type gptHeader struct {
	currentLBA    uint64
	backupLBA     uint64
	firstUsable   uint64
	lastUsable    uint64
	diskGUID      [16]byte
	entryArrayLBA uint64
	entryCount    uint32
	arrayCRC      uint32
}

func (h *gptHeader) serialize(sectorSize uint64) []byte {
	buf := make([]byte, sectorSize)
	copy(buf[0:8], gptSignature)
	binary.LittleEndian.PutUint32(buf[8:12], gptRevision)
	binary.LittleEndian.PutUint32(buf[12:16], gptHeaderSize)
	// CRC field (16:20) is computed over the header with itself zeroed.
	binary.LittleEndian.PutUint64(buf[24:32], h.currentLBA)
	binary.LittleEndian.PutUint64(buf[32:40], h.backupLBA)
	binary.LittleEndian.PutUint64(buf[40:48], h.firstUsable)
	binary.LittleEndian.PutUint64(buf[48:56], h.lastUsable)
	copy(buf[56:72], h.diskGUID[:])
	binary.LittleEndian.PutUint64(buf[72:80], h.entryArrayLBA)
	binary.LittleEndian.PutUint32(buf[80:84], h.entryCount)
	binary.LittleEndian.PutUint32(buf[84:88], gptEntrySize)
	binary.LittleEndian.PutUint32(buf[88:92], h.arrayCRC)

	headerCRC := crc32.ChecksumIEEE(buf[0:gptHeaderSize])
	binary.LittleEndian.PutUint32(buf[16:20], headerCRC)
	return buf
}

func gptPartitionName(label string) ([72]byte, error) {
	var name [72]byte
	units := utf16.Encode([]rune(label))
	if len(units) > gptNameMaxRunes {
		return name, fmt.Errorf("partition label (%s) exceeds %d UTF-16 units", label, gptNameMaxRunes)
	}
	for i, unit := range units {
		binary.LittleEndian.PutUint16(name[i*2:i*2+2], unit)
	}
	return name, nil
}

func buildGPTEntryArray(placed []PlacedPartition) ([]byte, error) {
	array := make([]byte, gptEntryCount*gptEntrySize)
	for i := range placed {
		partition := &placed[i]

		typeGUID, err := partition.Spec.GPTType()
		if err != nil {
			return nil, err
		}
		partGUID := uuid.New()

		entry := array[(partition.Spec.Num-1)*gptEntrySize:]
		typeBytes := guidToBytesLE(typeGUID)
		partBytes := guidToBytesLE(partGUID)
		copy(entry[0:16], typeBytes[:])
		copy(entry[16:32], partBytes[:])
		binary.LittleEndian.PutUint64(entry[32:40], partition.StartLBA)
		binary.LittleEndian.PutUint64(entry[40:48], partition.EndLBA())
		// attribute bits stay zero
		name, err := gptPartitionName(partition.Spec.Label)
		if err != nil {
			return nil, err
		}
		copy(entry[56:128], name[:])

		partition.PartUUID = partGUID.String()
		logger.Log.Infof("Creating a %s partition with PARTUUID %s", partition.Spec.Type, partition.PartUUID)
		logger.Log.Infof("Size in LBA: %d, Start = %d, End = %d",
			partition.Sectors, partition.StartLBA, partition.EndLBA())
	}
	return array, nil
}

func protectiveMBR(totalSectors uint64, sectorSize uint64) []byte {
	buf := make([]byte, sectorSize)

	sectors := totalSectors - 1
	if sectors > 0xFFFFFFFF {
		sectors = 0xFFFFFFFF
	}

	entry := buf[446:462]
	entry[1] = 0x00
	entry[2] = 0x02
	entry[3] = 0x00
	entry[4] = 0xEE
	entry[5], entry[6], entry[7] = 0xFF, 0xFF, 0xFF
	binary.LittleEndian.PutUint32(entry[8:12], 1)
	binary.LittleEndian.PutUint32(entry[12:16], uint32(sectors))

	buf[510] = 0x55
	buf[511] = 0xAA
	return buf
}

// WriteGPTTable writes a fresh GPT onto the image, placing every partition
// at its resolved position. Returns the random disk GUID and fills in each
// partition's PARTUUID.
//
// A protective MBR is written as well; most partitioning programs refuse a
// bare GPT without one.
func WriteGPTTable(imagePath string, totalSectors uint64, sectorSize uint64, placed []PlacedPartition,
) (string, error) {
	// The device must be opened for writing, a read-only descriptor gets
	// EBADF from the kernel on write.
	disk, err := os.OpenFile(imagePath, os.O_WRONLY, 0)
	if err != nil {
		return "", fmt.Errorf("failed to open disk (%s):\n%w", imagePath, err)
	}
	defer disk.Close()

	diskGUID := uuid.New()
	logger.Log.Infof("Created new GPT partition table on (%s)", imagePath)
	logger.Log.Infof("UUID: %s", diskGUID)

	arraySectors := uint64((gptEntryCount*gptEntrySize + int(sectorSize) - 1) / int(sectorSize))
	firstUsable := 2 + arraySectors
	lastUsable := totalSectors - arraySectors - 2
	logger.Log.Infof("Total LBA: %d", lastUsable)

	array, err := buildGPTEntryArray(placed)
	if err != nil {
		return "", err
	}
	arrayCRC := crc32.ChecksumIEEE(array)

	primary := gptHeader{
		currentLBA:    1,
		backupLBA:     totalSectors - 1,
		firstUsable:   firstUsable,
		lastUsable:    lastUsable,
		diskGUID:      guidToBytesLE(diskGUID),
		entryArrayLBA: 2,
		entryCount:    gptEntryCount,
		arrayCRC:      arrayCRC,
	}
	backup := gptHeader{
		currentLBA:    totalSectors - 1,
		backupLBA:     1,
		firstUsable:   firstUsable,
		lastUsable:    lastUsable,
		diskGUID:      primary.diskGUID,
		entryArrayLBA: lastUsable + 1,
		entryCount:    gptEntryCount,
		arrayCRC:      arrayCRC,
	}

	writes := []struct {
		offset uint64
		data   []byte
	}{
		{0, protectiveMBR(totalSectors, sectorSize)},
		{1 * sectorSize, primary.serialize(sectorSize)},
		{2 * sectorSize, array},
		{(lastUsable + 1) * sectorSize, array},
		{(totalSectors - 1) * sectorSize, backup.serialize(sectorSize)},
	}
	for _, w := range writes {
		_, err = disk.WriteAt(w.data, int64(w.offset))
		if err != nil {
			return "", fmt.Errorf("failed to write partition table to (%s):\n%w", imagePath, err)
		}
	}

	err = disk.Sync()
	if err != nil {
		return "", fmt.Errorf("failed to sync partition table to (%s):\n%w", imagePath, err)
	}

	return diskGUID.String(), nil
}

// ReadGPTHeader parses the primary GPT header of the image. Used by tests
// and consistency checks after a table is written.
func ReadGPTHeader(imagePath string, sectorSize uint64) (diskGUID string, entries [][]byte, err error) {
	disk, err := os.Open(imagePath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open disk (%s):\n%w", imagePath, err)
	}
	defer disk.Close()

	header := make([]byte, sectorSize)
	_, err = disk.ReadAt(header, int64(sectorSize))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read GPT header:\n%w", err)
	}

	if !bytes.Equal(header[0:8], []byte(gptSignature)) {
		return "", nil, fmt.Errorf("no GPT signature found on (%s)", imagePath)
	}

	storedCRC := binary.LittleEndian.Uint32(header[16:20])
	scratch := make([]byte, gptHeaderSize)
	copy(scratch, header[0:gptHeaderSize])
	binary.LittleEndian.PutUint32(scratch[16:20], 0)
	if crc32.ChecksumIEEE(scratch) != storedCRC {
		return "", nil, fmt.Errorf("GPT header checksum mismatch on (%s)", imagePath)
	}

	var rawGUID [16]byte
	copy(rawGUID[:], header[56:72])
	guid := guidFromBytesLE(rawGUID)

	entryArrayLBA := binary.LittleEndian.Uint64(header[72:80])
	entryCount := binary.LittleEndian.Uint32(header[80:84])
	entrySize := binary.LittleEndian.Uint32(header[84:88])

	array := make([]byte, entryCount*entrySize)
	_, err = disk.ReadAt(array, int64(entryArrayLBA*sectorSize))
	if err != nil {
		return "", nil, fmt.Errorf("failed to read GPT entry array:\n%w", err)
	}

	storedArrayCRC := binary.LittleEndian.Uint32(header[88:92])
	if crc32.ChecksumIEEE(array) != storedArrayCRC {
		return "", nil, fmt.Errorf("GPT entry array checksum mismatch on (%s)", imagePath)
	}

	for i := uint32(0); i < entryCount; i++ {
		entries = append(entries, array[i*entrySize:(i+1)*entrySize])
	}
	return guid.String(), entries, nil
}

func guidFromBytesLE(raw [16]byte) uuid.UUID {
	var guid uuid.UUID
	guid[0], guid[1], guid[2], guid[3] = raw[3], raw[2], raw[1], raw[0]
	guid[4], guid[5] = raw[5], raw[4]
	guid[6], guid[7] = raw[7], raw[6]
	copy(guid[8:], raw[8:])
	return guid
}
