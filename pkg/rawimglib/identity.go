package rawimglib

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/envfile"
	"github.com/aosc-dev/mkrawimg/internal/file"
	"github.com/aosc-dev/mkrawimg/internal/safechroot"
)

const fstabBanner = "\n# ---- Auto generated by mkrawimg ----\n"

// GenerateFstab renders the fstab entries for every partition with a
// mountpoint. Initrdless devices reference partitions by PARTUUID since
// nothing resolves filesystem UUIDs before the root is mounted; everything
// else uses the filesystem UUID.
func GenerateFstab(device *devicespec.Device, pmData *PartitionMapData) (string, error) {
	builder := strings.Builder{}
	builder.WriteString(fstabBanner)

	for i := range device.Partitions {
		partition := &device.Partitions[i]
		if partition.Mountpoint == "" {
			continue
		}

		partData, ok := pmData.Data[partition.Num]
		if !ok {
			return "", fmt.Errorf("unable to get partition data for partition %d", partition.Num)
		}

		var source string
		if device.Initrdless {
			source = fmt.Sprintf("PARTUUID=%q", partData.PartUUID)
		} else {
			if partData.FSUUID == "" {
				return "", fmt.Errorf("partition %d has a mountpoint but no filesystem UUID",
					partition.Num)
			}
			source = fmt.Sprintf("UUID=%q", partData.FSUUID)
		}

		fstype, err := partition.Filesystem.OSFstype()
		if err != nil {
			return "", err
		}

		// genfstab(8) would expand "defaults" from /proc/mounts; the
		// plain keyword reads better.
		fsckPass := 2
		if partition.Usage == devicespec.PartitionUsageRootfs {
			fsckPass = 1
		}
		builder.WriteString(fmt.Sprintf("%s\t%s\t%s\tdefaults\t0\t%d\n",
			source, partition.Mountpoint, fstype, fsckPass))
	}
	return builder.String(), nil
}

func (ic *ImageContext) generateFstab(pmData *PartitionMapData, rootDir string) error {
	content, err := GenerateFstab(ic.Device, pmData)
	if err != nil {
		return err
	}
	err = file.Append(content, filepath.Join(rootDir, "etc/fstab"))
	if err != nil {
		return fmt.Errorf("failed to write fstab:\n%w", err)
	}
	return nil
}

// EnvFileContent renders the build environment file sourced by postinst and
// bootloader scripts. Literal values land first, followed by ROOT_, BOOT_
// and EFI_ aliases pointing back at the per-partition variables.
func EnvFileContent(device *devicespec.Device, loopDevPath string, rootPartDevPath string,
	pmData *PartitionMapData,
) (string, error) {
	entries := []envfile.Entry{
		{Name: "DEVICE_ID", Value: device.ID},
		{Name: "DEVICE_COMPATIBLE", Value: device.OfCompatible},
		{Name: "LOOPDEV", Value: loopDevPath},
		{Name: "NUM_PARTITIONS", Value: fmt.Sprintf("%d", device.NumPartitions)},
		{Name: "ROOTPART", Value: rootPartDevPath},
		{Name: "DISKLABEL", Value: string(device.PartitionMap)},
		{Name: "DISKUUID", Value: pmData.DiskUUID},
	}

	builder := strings.Builder{}
	builder.WriteString(envfile.Format(entries))

	alias := func(prefix string, num uint32, suffix string) {
		builder.WriteString(fmt.Sprintf("%s_%s=\"$PART%d_%s\"\n", prefix, suffix, num, suffix))
	}

	for i := range device.Partitions {
		partition := &device.Partitions[i]
		partData, ok := pmData.Data[partition.Num]
		if !ok {
			return "", fmt.Errorf("unable to get partition data for partition %d", partition.Num)
		}

		builder.WriteString(envfile.Format([]envfile.Entry{
			{Name: fmt.Sprintf("PART%d_PARTUUID", partition.Num), Value: partData.PartUUID},
		}))
		if partition.Usage == devicespec.PartitionUsageRootfs {
			alias("ROOT", partition.Num, "PARTUUID")
		} else if partition.Usage == devicespec.PartitionUsageBoot {
			alias("BOOT", partition.Num, "PARTUUID")
		}
		if partition.Type == devicespec.PartitionTypeEFI {
			alias("EFI", partition.Num, "PARTUUID")
		}

		// A partition without a filesystem has no FSUUID to export.
		if partData.FSUUID == "" {
			continue
		}
		builder.WriteString(envfile.Format([]envfile.Entry{
			{Name: fmt.Sprintf("PART%d_FSUUID", partition.Num), Value: partData.FSUUID},
		}))
		if partition.Usage == devicespec.PartitionUsageRootfs {
			alias("ROOT", partition.Num, "FSUUID")
		} else if partition.Usage == devicespec.PartitionUsageBoot {
			alias("BOOT", partition.Num, "FSUUID")
		}
		if partition.Type == devicespec.PartitionTypeEFI {
			alias("EFI", partition.Num, "FSUUID")
		}
	}
	return builder.String(), nil
}

func (ic *ImageContext) writeEnvFile(loopDevPath string, rootPartDevPath string, rootDir string,
	pmData *PartitionMapData,
) error {
	content, err := EnvFileContent(ic.Device, loopDevPath, rootPartDevPath, pmData)
	if err != nil {
		return err
	}
	path := filepath.Join(rootDir, strings.TrimPrefix(safechroot.EnvFilePath, "/"))
	err = file.Write(content, path)
	if err != nil {
		return fmt.Errorf("failed to write the build environment file:\n%w", err)
	}
	return nil
}

// setHostname writes a per-image hostname ({distro}-{id}-{rand}) and the
// matching /etc/hosts entries.
func (ic *ImageContext) setHostname(rootDir string) error {
	ic.infof("Setting up hostname ...")
	hostname := fmt.Sprintf("%s-%s-%08x",
		ic.Device.Distro.HostnamePrefix(), ic.Device.ID, rand.Uint32())
	ic.infof("Hostname: %s", hostname)

	err := file.Write(hostname+"\n", filepath.Join(rootDir, "etc/hostname"))
	if err != nil {
		return fmt.Errorf("failed to write hostname:\n%w", err)
	}

	hosts := fmt.Sprintf("\n127.0.0.1\t%s\n::1\t%s\n", hostname, hostname)
	err = file.Append(hosts, filepath.Join(rootDir, "etc/hosts"))
	if err != nil {
		return fmt.Errorf("failed to update /etc/hosts:\n%w", err)
	}
	return nil
}
