package rawimglib

import (
	"fmt"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/file"
	"github.com/aosc-dev/mkrawimg/internal/logger"
	"github.com/aosc-dev/mkrawimg/internal/shell"
	"github.com/aosc-dev/mkrawimg/internal/termstate"
)

const (
	bootstrapToolDir = "/usr/share/aoscbootstrap"
	binfmtDir        = "/proc/sys/fs/binfmt_misc"
)

// rsyncSysroot copies the bootstrapped distribution into the mounted root
// filesystem, preserving hardlinks, ACLs, xattrs and sparse regions.
func rsyncSysroot(srcDir string, dstDir string) error {
	for _, dir := range []string{srcDir, dstDir} {
		exists, err := file.DirExists(dir)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("directory (%s) does not exist", dir)
		}
	}

	logger.Log.Infof("Installing the distribution in %s to %s ...", srcDir, dstDir)
	err := shell.ExecuteLiveWithErr(shell.DefaultWarnLogLines, "rsync",
		"-axAHXSW", "--numeric-ids", "--info=progress2", "--no-i-r",
		srcDir+"/", dstDir+"/")
	if err != nil {
		return fmt.Errorf("failed to install the distribution:\n%w", err)
	}
	return nil
}

// BootstrapPath returns the shared rootfs sketch directory for a variant
// and architecture under the working directory.
func BootstrapPath(workDir string, variant devicespec.Variant, arch devicespec.Arch) string {
	return filepath.Join(workDir, fmt.Sprintf("bootstrap/%s-%s", variant, arch))
}

// BootstrapIsCached reports whether a previous bootstrap at path looks
// usable. The os-release file must exist and carry an ID, anything less is
// a torn bootstrap and gets redone.
func BootstrapIsCached(path string) bool {
	osReleasePath := filepath.Join(path, "etc/os-release")
	isFile, err := file.IsFile(osReleasePath)
	if err != nil || !isFile {
		return false
	}

	osRelease, err := ini.Load(osReleasePath)
	if err != nil {
		logger.Log.Debugf("Ignoring unparsable os-release (%s): %v", osReleasePath, err)
		return false
	}
	return osRelease.Section("").Key("ID").String() != ""
}

// BootstrapDistribution generates a system release at path by driving
// aoscbootstrap.
func BootstrapDistribution(variant devicespec.Variant, path string, arch devicespec.Arch,
	mirror string,
) error {
	found, err := file.CommandExists("aoscbootstrap")
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("aoscbootstrap was not found on PATH")
	}

	termstate.SetupScrollRegion()
	termstate.DrawStatusBar(fmt.Sprintf("[%s] Bootstrapping release ...", variant))
	defer termstate.Restore()

	logger.Log.Infof("Bootstrapping %s system distribution to %s ...", variant, path)

	// The desktop recipe ships under the name of its desktop environment.
	recipe := string(variant)
	if variant == devicespec.VariantDesktop {
		recipe = "kde"
	}

	err = shell.ExecuteLiveWithErr(shell.DefaultWarnLogLines, "aoscbootstrap",
		"stable", path, mirror,
		"-x",
		"--config", filepath.Join(bootstrapToolDir, "config/aosc-mainline.toml"),
		"--arch", string(arch),
		"-s", filepath.Join(bootstrapToolDir, "scripts/reset-repo.sh"),
		"-s", filepath.Join(bootstrapToolDir, "scripts/enable-dkms.sh"),
		"--include-files", filepath.Join(bootstrapToolDir,
			fmt.Sprintf("recipes/mainline/%s-common.lst", recipe)))
	if err != nil {
		return fmt.Errorf("failed to bootstrap the %s distribution:\n%w", variant, err)
	}

	logger.Log.Infof("Successfully bootstrapped the %s distribution.", variant)
	return nil
}

// CheckBinfmt verifies that cross-architecture builds can run target
// binaries through binfmt_misc.
func CheckBinfmt(arch devicespec.Arch) error {
	if arch.IsNative() {
		return nil
	}

	exists, err := file.DirExists(binfmtDir)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("binfmt_misc support is currently not available on your system")
	}

	name := arch.QemuBinfmtName()
	isFile, err := file.IsFile(filepath.Join(binfmtDir, name))
	if err != nil {
		return err
	}
	if !isFile {
		return fmt.Errorf("%s is not found in registered binfmt_misc targets, "+
			"make sure QEMU static and its binfmt file are installed", name)
	}
	return nil
}
