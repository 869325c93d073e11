// Package blkid probes filesystem superblocks for identifiers.
//
// The probing reads the superblocks directly instead of going through
// libblkid's cache: the cache does not cover loop devices, and everything
// this tool formats sits on one.
package blkid

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/google/uuid"
)

const (
	ext4SuperblockOffset = 1024
	ext4Magic            = 0xEF53

	btrfsSuperblockOffset = 0x10000

	xfsMagic = "XFSB"
)

var btrfsMagic = []byte("_BHRfS_M")

// GetFSUUID returns the filesystem UUID of a formatted partition, in the
// same textual form blkid reports.
func GetFSUUID(devPath string) (string, error) {
	dev, err := os.Open(devPath)
	if err != nil {
		return "", fmt.Errorf("failed to open (%s):\n%w", devPath, err)
	}
	defer dev.Close()

	probes := []func(*os.File) (string, bool, error){
		probeExt4,
		probeXfs,
		probeBtrfs,
		probeVfat,
	}
	for _, probe := range probes {
		fsUUID, found, err := probe(dev)
		if err != nil {
			return "", fmt.Errorf("failed to probe (%s):\n%w", devPath, err)
		}
		if found {
			return fsUUID, nil
		}
	}

	return "", fmt.Errorf(
		"no filesystem UUID found on (%s); perhaps there's no filesystem in this partition, or its type can't be identified",
		devPath)
}

func readAt(dev *os.File, offset int64, length int) ([]byte, bool, error) {
	buf := make([]byte, length)
	_, err := dev.ReadAt(buf, offset)
	if err != nil {
		// A filesystem smaller than the probe offset simply is not that
		// filesystem.
		return nil, false, nil
	}
	return buf, true, nil
}

func probeExt4(dev *os.File) (string, bool, error) {
	sb, ok, err := readAt(dev, ext4SuperblockOffset, 1024)
	if err != nil || !ok {
		return "", false, err
	}

	magic := binary.LittleEndian.Uint16(sb[0x38:0x3A])
	if magic != ext4Magic {
		return "", false, nil
	}

	fsUUID, err := uuid.FromBytes(sb[0x68:0x78])
	if err != nil {
		return "", false, err
	}
	return fsUUID.String(), true, nil
}

func probeXfs(dev *os.File) (string, bool, error) {
	sb, ok, err := readAt(dev, 0, 512)
	if err != nil || !ok {
		return "", false, err
	}

	if !bytes.Equal(sb[0:4], []byte(xfsMagic)) {
		return "", false, nil
	}

	fsUUID, err := uuid.FromBytes(sb[32:48])
	if err != nil {
		return "", false, err
	}
	return fsUUID.String(), true, nil
}

func probeBtrfs(dev *os.File) (string, bool, error) {
	sb, ok, err := readAt(dev, btrfsSuperblockOffset, 4096)
	if err != nil || !ok {
		return "", false, err
	}

	if !bytes.Equal(sb[0x40:0x48], btrfsMagic) {
		return "", false, nil
	}

	fsUUID, err := uuid.FromBytes(sb[0x20:0x30])
	if err != nil {
		return "", false, err
	}
	return fsUUID.String(), true, nil
}

func probeVfat(dev *os.File) (string, bool, error) {
	sector, ok, err := readAt(dev, 0, 512)
	if err != nil || !ok {
		return "", false, err
	}

	// A FAT boot sector starts with a jump instruction and carries the boot
	// signature at the end.
	if sector[510] != 0x55 || sector[511] != 0xAA {
		return "", false, nil
	}
	if sector[0] != 0xEB && sector[0] != 0xE9 {
		return "", false, nil
	}

	// The volume serial sits behind the extended boot signature, whose
	// position differs between FAT12/16 and FAT32.
	var serial uint32
	switch {
	case sector[66] == 0x29: // FAT32
		serial = binary.LittleEndian.Uint32(sector[67:71])
	case sector[38] == 0x29: // FAT12/16
		serial = binary.LittleEndian.Uint32(sector[39:43])
	default:
		return "", false, nil
	}

	return fmt.Sprintf("%04X-%04X", serial>>16, serial&0xFFFF), true, nil
}
