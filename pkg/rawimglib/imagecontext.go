// Package rawimglib drives the production of flashable raw images: it
// lays a partition table onto a sparse image, formats and mounts the
// filesystems, installs the distribution and device packages, applies the
// bootloaders, and compresses the result.
package rawimglib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/diskutils"
	"github.com/aosc-dev/mkrawimg/internal/file"
	"github.com/aosc-dev/mkrawimg/internal/logger"
	"github.com/aosc-dev/mkrawimg/internal/safechroot"
	"github.com/aosc-dev/mkrawimg/internal/safeloopback"
	"github.com/aosc-dev/mkrawimg/internal/safemount"
	"github.com/aosc-dev/mkrawimg/internal/termstate"
)

const rawImageName = "rawmedia.img"

// PartitionData carries the identifiers a partition gains during the build.
// FSUUID stays empty until the partition is formatted.
type PartitionData struct {
	Num      uint32
	PartUUID string
	FSUUID   string
}

// PartitionMapData is the result of partitioning and formatting an image.
type PartitionMapData struct {
	DiskUUID string
	Data     map[uint32]PartitionData
}

// ImageContext is one build job: a single image for one device and one
// variant. The device spec is immutable once the job queue is assembled.
type ImageContext struct {
	Device   *devicespec.Device
	Variant  devicespec.Variant
	WorkDir  string
	OutDir   string
	Mirror   string
	User     string
	Password string

	// Filename of the output image, combined from the device, variant,
	// date and revision.
	Filename string

	// BaseDist is the path to the bootstrapped system distribution the
	// root filesystem is populated from.
	BaseDist string

	// OverrideRootfsFstype replaces the root partition's filesystem type
	// when non-empty.
	OverrideRootfsFstype devicespec.FilesystemType

	ExtraPackages []string
	Compress      Compression

	// Topics to enable inside the image. Nil leaves the stable sources
	// untouched.
	Topics []Topic
}

func (ic *ImageContext) infof(format string, args ...any) {
	logger.Log.Infof("[%s %s] %s", ic.Device.ID, ic.Variant, fmt.Sprintf(format, args...))
}

func (ic *ImageContext) warnf(format string, args ...any) {
	logger.Log.Warnf("[%s %s] %s", ic.Device.ID, ic.Variant, fmt.Sprintf(format, args...))
}

func (ic *ImageContext) drawProgress(num int, total int, content string) {
	termstate.DrawStatusBar(fmt.Sprintf("[%d/%d] %s (%s): %s",
		num, total, ic.Device.ID, ic.Variant, content))
}

// workDirBase returns the scratch directory dedicated to this job.
func (ic *ImageContext) workDirBase() string {
	return filepath.Join(ic.WorkDir, fmt.Sprintf("sketches/%s-%s", ic.Device.ID, ic.Variant))
}

// outDirBase returns the output directory, following the release tree
// hierarchy (os-{arch}/{variant}/rawimg/{vendor}).
func (ic *ImageContext) outDirBase() string {
	return filepath.Join(ic.OutDir, fmt.Sprintf("os-%s/%s/rawimg/%s",
		ic.Device.Arch, ic.Variant, ic.Device.Vendor))
}

// Execute builds the image. num and total describe this job's position in
// the whole queue, for the status line only.
func (ic *ImageContext) Execute(num int, total int) error {
	termstate.SetupScrollRegion()

	workDirBase := ic.workDirBase()
	outDirBase := ic.outDirBase()
	outFilePath := filepath.Join(outDirBase, ic.Filename)
	mountDirBase := filepath.Join(workDirBase, "mnt")
	sizeBytes := ic.Device.Size.SizeMiB(ic.Variant) * diskutils.MiB

	rootfsPartition := ic.Device.RootfsPartition()
	if rootfsPartition == nil {
		return fmt.Errorf("unable to find a root filesystem partition")
	}

	ic.infof("Image:\n\t%q (%s) - %s", ic.Device.Name, ic.Device.ID, ic.Variant)
	ic.infof("Output file:\n\t%s", ic.Filename)

	ic.infof("Initializing image ...")
	ic.drawProgress(num, total, "Initializing image")

	for _, dir := range []string{workDirBase, outDirBase, mountDirBase} {
		err := os.MkdirAll(dir, 0o755)
		if err != nil {
			return fmt.Errorf("failed to create directory (%s):\n%w", dir, err)
		}
	}

	rawImagePath := filepath.Join(workDirBase, rawImageName)
	exists, err := file.IsFile(rawImagePath)
	if err != nil {
		return err
	}
	if exists {
		ic.warnf("Raw image file already exists in the workbench, removing it first.")
		err = file.RemoveFileIfExists(rawImagePath)
		if err != nil {
			return err
		}
	}

	err = diskutils.CreateSparseDisk(rawImagePath, sizeBytes)
	if err != nil {
		return err
	}

	loopback, err := safeloopback.NewLoopback(rawImagePath)
	if err != nil {
		return fmt.Errorf("failed to attach the raw image to a loop device:\n%w", err)
	}
	defer loopback.Close()

	loopDevPath := loopback.DevicePath()

	ic.infof("Creating partitions ...")
	pmData, err := ic.partitionImage(loopDevPath)
	if err != nil {
		return fmt.Errorf("failed to partition the image:\n%w", err)
	}

	ic.infof("Formatting partitions ...")
	err = ic.formatPartitions(loopDevPath, pmData)
	if err != nil {
		return err
	}

	// systemd-nspawn scopes /dev, /sys and /proc by itself, but the loop
	// device and its partitions must be bind-mounted into the container
	// for the post installation and bootloader scripts to reach them.
	binds := []string{loopDevPath}
	for i := range ic.Device.Partitions {
		partDevPath, err := diskutils.PartitionDevPath(loopDevPath, ic.Device.Partitions[i].Num)
		if err != nil {
			return err
		}
		binds = append(binds, partDevPath)
	}

	rootPartDevPath, err := diskutils.PartitionDevPath(loopDevPath, rootfsPartition.Num)
	if err != nil {
		return err
	}

	mounts := safemount.NewStack(safemount.DefaultSettleDelay)
	defer mounts.Close()

	ic.infof("Mounting partitions ...")
	err = ic.mountPartitions(loopDevPath, mountDirBase, mounts)
	if err != nil {
		return err
	}

	rootfsMount, err := filepath.Abs(filepath.Join(mountDirBase, fmt.Sprintf("p%d", rootfsPartition.Num)))
	if err != nil {
		return fmt.Errorf("failed to resolve the root filesystem mountpoint:\n%w", err)
	}
	logger.Log.Debugf("Root filesystem mountpoint: %s", rootfsMount)

	ic.infof("Installing system distribution ...")
	ic.drawProgress(num, total, "Installing base distribution")
	err = rsyncSysroot(ic.BaseDist, rootfsMount)
	if err != nil {
		return err
	}

	err = ic.mountPartitionsInRoot(loopDevPath, rootfsMount, mounts)
	if err != nil {
		return err
	}

	ic.infof("Generating fstab ...")
	err = ic.generateFstab(pmData, rootfsMount)
	if err != nil {
		return err
	}

	ic.infof("Setting up bind mounts ...")
	err = ic.setupChrootMounts(rootfsMount, mounts)
	if err != nil {
		return err
	}

	err = ic.writeEnvFile(loopDevPath, rootPartDevPath, rootfsMount, pmData)
	if err != nil {
		return err
	}

	err = ic.saveTopics(rootfsMount)
	if err != nil {
		return err
	}

	ic.infof("Installing BSP packages ...")
	ic.drawProgress(num, total, "Installing packages")
	packages := append([]string{}, ic.Device.BspPackages...)
	packages = append(packages, ic.ExtraPackages...)
	err = ic.installPackages(packages, rootfsMount, binds)
	if err != nil {
		return err
	}

	err = ic.installFirstbootPackages(rootfsMount, binds)
	if err != nil {
		return err
	}

	ic.infof("Running post installation step ...")
	ic.drawProgress(num, total, "Post installation step")
	err = ic.postinstStep(rootfsMount, binds)
	if err != nil {
		return err
	}

	err = ic.createFirstbootInitrd(rootfsMount, binds)
	if err != nil {
		return err
	}

	err = ic.applyBootloaders(rootfsMount, loopDevPath, binds)
	if err != nil {
		return err
	}

	ic.infof("Finishing up ...")
	ic.drawProgress(num, total, "Finishing up")
	ic.infof("Filling the free space with zeroes ...")
	err = zeroFillFreeSpace(rootfsMount)
	if err != nil {
		return err
	}

	ic.infof("Unmounting filesystems ...")
	err = mounts.CleanClose()
	if err != nil {
		return err
	}

	ic.infof("Detaching the loop device ...")
	err = loopback.CleanClose()
	if err != nil {
		return err
	}

	err = CompressImage(ic.Compress, rawImagePath, outFilePath)
	if err != nil {
		return err
	}
	termstate.Restore()

	err = safemount.SyncFilesystem(rawImagePath)
	if err != nil {
		return err
	}

	logger.Log.Infof("Done! Image finished.")
	return nil
}

// partitionImage writes the partition table and reloads the kernel's view
// of the disk.
func (ic *ImageContext) partitionImage(diskDevPath string) (*PartitionMapData, error) {
	sectorSize, err := diskutils.GetSectorSize(diskDevPath)
	if err != nil {
		return nil, err
	}
	diskSizeBytes, err := diskutils.GetDiskSizeBytes(diskDevPath)
	if err != nil {
		return nil, err
	}
	totalSectors := diskSizeBytes / sectorSize

	placed, err := diskutils.PlacePartitions(ic.Device, totalSectors, sectorSize)
	if err != nil {
		return nil, err
	}

	var diskUUID string
	switch ic.Device.PartitionMap {
	case devicespec.TableTypeGPT:
		diskUUID, err = diskutils.WriteGPTTable(diskDevPath, totalSectors, sectorSize, placed)
	case devicespec.TableTypeMBR:
		diskUUID, err = diskutils.WriteMBRTable(diskDevPath, totalSectors, sectorSize, placed)
	default:
		err = fmt.Errorf("unsupported partition map (%s)", ic.Device.PartitionMap)
	}
	if err != nil {
		return nil, err
	}

	pmData := &PartitionMapData{
		DiskUUID: diskUUID,
		Data:     make(map[uint32]PartitionData, len(placed)),
	}
	for i := range placed {
		pmData.Data[placed[i].Spec.Num] = PartitionData{
			Num:      placed[i].Spec.Num,
			PartUUID: placed[i].PartUUID,
		}
	}

	ic.infof("Informing the kernel to reload the partition table on %s ...", diskDevPath)
	err = diskutils.RefreshPartitions(diskDevPath)
	if err != nil {
		return nil, err
	}
	return pmData, nil
}

// formatPartitions formats every partition that carries a filesystem and
// records the resulting filesystem UUIDs.
func (ic *ImageContext) formatPartitions(loopDevPath string, pmData *PartitionMapData) error {
	for i := range ic.Device.Partitions {
		partition := &ic.Device.Partitions[i]
		if partition.Filesystem == devicespec.FilesystemTypeNone || partition.Filesystem == "" {
			continue
		}

		fsType := partition.Filesystem
		if partition.Usage == devicespec.PartitionUsageRootfs && ic.OverrideRootfsFstype != "" {
			fsType = ic.OverrideRootfsFstype
		}

		ic.infof("Formatting partition %d (%s)", partition.Num, fsType)
		partDevPath, err := diskutils.PartitionDevPath(loopDevPath, partition.Num)
		if err != nil {
			return err
		}

		fsUUID, err := diskutils.FormatPartition(fsType, partDevPath, partition.FsLabel)
		if err != nil {
			return err
		}

		partData, ok := pmData.Data[partition.Num]
		if !ok {
			return fmt.Errorf("unable to get partition data for partition %d", partition.Num)
		}
		partData.FSUUID = fsUUID
		pmData.Data[partition.Num] = partData
	}
	return nil
}

// mountPartitions mounts every partition with a filesystem under the
// scratch tree (mnt/pN).
func (ic *ImageContext) mountPartitions(loopDevPath string, mountDirBase string,
	mounts *safemount.Stack,
) error {
	for i := range ic.Device.Partitions {
		partition := &ic.Device.Partitions[i]
		if partition.Filesystem == devicespec.FilesystemTypeNone || partition.Filesystem == "" {
			continue
		}

		partDevPath, err := diskutils.PartitionDevPath(loopDevPath, partition.Num)
		if err != nil {
			return err
		}
		target := filepath.Join(mountDirBase, fmt.Sprintf("p%d", partition.Num))

		fstype, err := partition.Filesystem.OSFstype()
		if err != nil {
			return err
		}

		// "defaults" carries no information for mount(2).
		opts := []string(nil)
		for _, opt := range partition.MountOpts {
			if opt != "defaults" {
				opts = append(opts, opt)
			}
		}

		logger.Log.Debugf("Mounting %s to %s", partDevPath, target)
		_, err = mounts.Mount(partDevPath, target, fstype, 0, strings.Join(opts, ","), true)
		if err != nil {
			return err
		}
	}
	return nil
}

// mountPartitionsInRoot mounts the non-root partitions at their configured
// mountpoints inside the root filesystem.
func (ic *ImageContext) mountPartitionsInRoot(loopDevPath string, rootDir string,
	mounts *safemount.Stack,
) error {
	for i := range ic.Device.Partitions {
		partition := &ic.Device.Partitions[i]
		if partition.Filesystem == devicespec.FilesystemTypeNone || partition.Filesystem == "" {
			continue
		}
		if partition.Usage == devicespec.PartitionUsageRootfs || partition.Mountpoint == "" {
			continue
		}

		partDevPath, err := diskutils.PartitionDevPath(loopDevPath, partition.Num)
		if err != nil {
			return err
		}
		// Joining a path with a leading slash would replace the whole path.
		target := filepath.Join(rootDir, strings.TrimPrefix(partition.Mountpoint, "/"))

		fstype, err := partition.Filesystem.OSFstype()
		if err != nil {
			return err
		}

		_, err = mounts.Mount(partDevPath, target, fstype, 0, "", true)
		if err != nil {
			return err
		}
	}
	return nil
}

// setupChrootMounts mounts a tmpfs on the image's /tmp, which holds the
// environment file and transient scripts.
func (ic *ImageContext) setupChrootMounts(rootDir string, mounts *safemount.Stack) error {
	target := filepath.Join(rootDir, "tmp")
	logger.Log.Debugf("Mounting tmpfs to %s ...", target)
	_, err := mounts.Mount("tmpfs", target, "tmpfs", 0, "", false)
	return err
}

// postinstStep sets up the user, locale and hostname, then runs the
// device's post installation script if one exists.
func (ic *ImageContext) postinstStep(rootDir string, binds []string) error {
	// The OOBE wizard takes care of the user, locale and swapfile setup on
	// first boot.
	var err error
	if ic.Device.OobeWizard {
		err = setLocale(rootDir, "C.UTF-8")
	} else {
		ic.infof("Setting up the user and locale ...")
		err = addUser(rootDir, ic.User, ic.Password, "Default User", "", nil)
		if err != nil {
			return err
		}
		err = setLocale(rootDir, "en_US.UTF-8")
	}
	if err != nil {
		return err
	}

	err = ic.setHostname(rootDir)
	if err != nil {
		return err
	}

	scriptPath := ""
	for _, name := range []string{"postinst.bash", "postinst.sh", "postinst"} {
		candidate := filepath.Join(ic.Device.Dir(), name)
		isFile, err := file.IsFile(candidate)
		if err != nil {
			return err
		}
		if isFile {
			scriptPath = candidate
			break
		}
	}
	if scriptPath == "" {
		ic.infof("No postinst script found, skipping.")
		return nil
	}

	ic.infof("Running post installation script ...")
	chroot := safechroot.NewChroot(rootDir, binds)
	return chroot.RunScript(scriptPath, "")
}
