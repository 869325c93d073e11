package rawimglib

import (
	"fmt"
	"strings"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/safechroot"
	"github.com/aosc-dev/mkrawimg/internal/termstate"
)

// packageManager abstracts the in-image package manager. Commands run
// inside the target container with the environment file sourced.
type packageManager interface {
	Install(chroot *safechroot.Chroot, packages []string) error
	UpgradeSystem(chroot *safechroot.Chroot) error
}

// omaManager drives oma, the AOSC OS package manager.
type omaManager struct{}

func (omaManager) Install(chroot *safechroot.Chroot, packages []string) error {
	args := []string{"--no-check-dbus", "install", "--no-progress", "--no-refresh-topics",
		"--force-confnew", "--yes", "--"}
	args = append(args, packages...)
	return chroot.Run("oma", args...)
}

func (omaManager) UpgradeSystem(chroot *safechroot.Chroot) error {
	return chroot.Run("oma", "--no-check-dbus", "upgrade", "--no-progress",
		"--force-confnew", "--yes")
}

// aptManager drives apt-get. oma is unavailable on ports still carried by
// the classic toolchain, so those go through apt directly.
type aptManager struct{}

func (aptManager) run(chroot *safechroot.Chroot, aptArgs []string) error {
	script := "export DEBIAN_FRONTEND=noninteractive; apt-get " + strings.Join(aptArgs, " ")
	return chroot.Run("/bin/bash", "-c", "--", script)
}

func (m aptManager) Install(chroot *safechroot.Chroot, packages []string) error {
	args := []string{"install", "--yes", "-o", "Dpkg::Options::=--force-confnew", "--"}
	args = append(args, packages...)
	return m.run(chroot, args)
}

func (m aptManager) UpgradeSystem(chroot *safechroot.Chroot) error {
	return m.run(chroot, []string{"full-upgrade", "--yes",
		"-o", "Dpkg::Options::=--force-confnew"})
}

// managerFor picks the package manager backend for a target.
func managerFor(distro devicespec.Distro, arch devicespec.Arch) (packageManager, error) {
	switch distro {
	case devicespec.DistroAOSC, "":
	default:
		return nil, fmt.Errorf("package management for distro (%s) is not implemented", distro)
	}

	if !arch.IsNative() {
		switch arch {
		case devicespec.ArchRiscv64, devicespec.ArchMips64r6el:
			return aptManager{}, nil
		}
	}
	return omaManager{}, nil
}

// installPackages installs packages into the mounted root filesystem.
func (ic *ImageContext) installPackages(packages []string, rootDir string, binds []string) error {
	if len(packages) == 0 {
		return nil
	}

	manager, err := managerFor(ic.Device.Distro, ic.Device.Arch)
	if err != nil {
		return err
	}

	chroot := safechroot.NewChroot(rootDir, binds)
	err = manager.Install(chroot, packages)
	if err != nil {
		return fmt.Errorf("failed to install packages:\n%w", err)
	}

	// Package managers may clobber the scroll region while drawing their
	// own progress output.
	termstate.SetupScrollRegion()
	return nil
}

// upgradeSystem upgrades every package in the mounted root filesystem.
func (ic *ImageContext) upgradeSystem(rootDir string) error {
	manager, err := managerFor(ic.Device.Distro, ic.Device.Arch)
	if err != nil {
		return err
	}

	chroot := safechroot.NewChroot(rootDir, nil)
	err = manager.UpgradeSystem(chroot)
	if err != nil {
		return fmt.Errorf("failed to upgrade the target system:\n%w", err)
	}

	termstate.SetupScrollRegion()
	return nil
}
