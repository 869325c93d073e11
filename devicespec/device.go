// Package devicespec models device description files (device.toml) and
// validates them before a build is attempted.
package devicespec

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"

	"github.com/aosc-dev/mkrawimg/internal/file"
)

// Characters that would break shell export files, paths or partition labels.
const forbiddenChars = `'"\/{}[]!` + "`" + `*&`

// Device is a parsed device description.
//
// Partitions and Bootloaders also accept the singular table names
// "partition" and "bootloader", matching how lists of tables usually read
// in TOML.
type Device struct {
	ID            string       `toml:"id"`
	Aliases       []string     `toml:"aliases"`
	Distro        Distro       `toml:"distro"`
	Vendor        string       `toml:"vendor"`
	Arch          Arch         `toml:"arch"`
	SocVendor     string       `toml:"soc_vendor"`
	Name          string       `toml:"name"`
	Model         string       `toml:"model"`
	OfCompatible  string       `toml:"compatible"`
	BspPackages   []string     `toml:"bsp_packages"`
	Initrdless    bool         `toml:"initrdless"`
	PartitionMap  TableType    `toml:"partition_map"`
	NumPartitions uint32       `toml:"num_partitions"`
	Size          VariantSizes `toml:"size"`
	Partitions    []Partition  `toml:"partitions"`
	Bootloaders   []Bootloader `toml:"bootloaders"`

	// FirstbootTarget selects a devena-firstboot-{target} package that
	// provisions the device on first boot; it is removed again once its
	// initramfs images are generated.
	FirstbootTarget string `toml:"devena_firstboot_target"`

	// OobeWizard defers user, locale and swapfile setup to the OOBE wizard
	// on first boot.
	OobeWizard bool `toml:"oobe_wizard"`

	// Path of the device.toml this spec was loaded from.
	FilePath string `toml:"-"`
}

type deviceAliases struct {
	Partition  []Partition  `toml:"partition"`
	Bootloader []Bootloader `toml:"bootloader"`
}

// LoadFromFile parses and validates a device.toml.
func LoadFromFile(path string) (*Device, error) {
	device := &Device{}
	_, err := toml.DecodeFile(path, device)
	if err != nil {
		return nil, fmt.Errorf("failed to parse device spec (%s):\n%w", path, err)
	}

	aliases := deviceAliases{}
	_, err = toml.DecodeFile(path, &aliases)
	if err != nil {
		return nil, fmt.Errorf("failed to parse device spec (%s):\n%w", path, err)
	}
	if len(device.Partitions) == 0 {
		device.Partitions = aliases.Partition
	}
	if len(device.Bootloaders) == 0 {
		device.Bootloaders = aliases.Bootloader
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve device spec path (%s):\n%w", path, err)
	}
	device.FilePath = absPath

	err = device.Check()
	if err != nil {
		return nil, fmt.Errorf("device spec (%s) is invalid:\n%w", path, err)
	}

	return device, nil
}

// Dir returns the directory containing the device.toml.
func (d *Device) Dir() string {
	return filepath.Dir(d.FilePath)
}

// RootfsPartition returns the partition mounted at /.
func (d *Device) RootfsPartition() *Partition {
	for i := range d.Partitions {
		if d.Partitions[i].Usage == PartitionUsageRootfs {
			return &d.Partitions[i]
		}
	}
	return nil
}

// PartitionByNum returns the partition with the given number, or nil.
func (d *Device) PartitionByNum(num uint32) *Partition {
	for i := range d.Partitions {
		if d.Partitions[i].Num == num {
			return &d.Partitions[i]
		}
	}
	return nil
}

// Check validates the whole spec. It reports the first problem found.
func (d *Device) Check() error {
	if d.ID == "" {
		return fmt.Errorf("device spec is missing an id")
	}
	if d.Vendor == "" {
		return fmt.Errorf("device spec is missing a vendor")
	}
	if d.Name == "" {
		return fmt.Errorf("device spec is missing a name")
	}
	if err := d.Arch.IsValid(); err != nil {
		return err
	}
	if err := d.Distro.IsValid(); err != nil {
		return err
	}
	if err := d.PartitionMap.IsValid(); err != nil {
		return err
	}
	if err := d.Size.IsValid(); err != nil {
		return err
	}

	// Identifiers end up in shell variables, paths and package names, so
	// they must stay ASCII and free of metacharacters.
	identifiers := []string{d.ID, d.Vendor}
	identifiers = append(identifiers, d.Aliases...)
	if d.OfCompatible != "" {
		identifiers = append(identifiers, d.OfCompatible)
	}
	for _, field := range identifiers {
		if !govalidator.IsPrintableASCII(field) {
			return fmt.Errorf("'%s' contains non-ASCII characters", field)
		}
		if strings.ContainsAny(field, forbiddenChars) {
			return fmt.Errorf("'%s' contains one of the following characters: %s", field, forbiddenChars)
		}
	}
	for _, field := range []string{d.Name, d.Model} {
		if strings.ContainsAny(field, forbiddenChars) {
			return fmt.Errorf("'%s' contains one of the following characters: %s", field, forbiddenChars)
		}
	}

	if len(d.Partitions) == 0 {
		return fmt.Errorf("no partition defined for this device")
	}
	if d.NumPartitions != uint32(len(d.Partitions)) {
		return fmt.Errorf("please update the num_partitions field: should be %d, got %d",
			len(d.Partitions), d.NumPartitions)
	}

	switch d.PartitionMap {
	case TableTypeMBR:
		if len(d.Partitions) > 4 {
			return fmt.Errorf("MBR partition map can contain up to 4 partitions")
		}
	case TableTypeGPT:
		if len(d.Partitions) > 128 {
			return fmt.Errorf("too many partitions for GPT")
		}
	}

	rootPartitions := 0
	lastNum := uint32(0)
	for i := range d.Partitions {
		partition := &d.Partitions[i]

		if err := partition.IsValid(d.PartitionMap); err != nil {
			return err
		}
		if partition.Num < lastNum {
			return fmt.Errorf("please keep the partitions in order")
		}
		if partition.Num == lastNum {
			return fmt.Errorf("duplicate partition number: %d", partition.Num)
		}
		lastNum = partition.Num

		if partition.Usage == PartitionUsageRootfs {
			rootPartitions++
			if rootPartitions > 1 {
				return fmt.Errorf("more than one root partition defined")
			}
		}
	}
	if rootPartitions == 0 {
		return fmt.Errorf("no root partition defined")
	}

	return d.checkBootloaders()
}

func (d *Device) checkBootloaders() error {
	for i := range d.Bootloaders {
		bootloader := &d.Bootloaders[i]

		if err := bootloader.IsValid(); err != nil {
			return err
		}

		switch bootloader.Type {
		case BootloaderTypeScript:
			scriptPath := filepath.Join(d.Dir(), bootloader.Name)
			isFile, err := file.IsFile(scriptPath)
			if err != nil {
				return err
			}
			if !isFile {
				return fmt.Errorf("script '%s' not found within the same directory as the device.toml",
					bootloader.Name)
			}
		case BootloaderTypeFlashPartition:
			target := d.PartitionByNum(bootloader.Partition)
			if target == nil {
				return fmt.Errorf("partition %d specified by a bootloader is not found",
					bootloader.Partition)
			}
			if target.Filesystem != FilesystemTypeNone && target.Filesystem != "" {
				return fmt.Errorf(
					"a bootloader tries to write to partition %d which already contains an active filesystem",
					target.Num)
			}
		}
	}
	return nil
}
