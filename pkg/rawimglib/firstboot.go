package rawimglib

import (
	"fmt"

	"github.com/aosc-dev/mkrawimg/devicespec"
	"github.com/aosc-dev/mkrawimg/internal/safechroot"
)

// oobePackageFor returns the OOBE wizard package for the variant. Desktop
// images get the graphical wizard, everything else the console one.
func oobePackageFor(variant devicespec.Variant) string {
	if variant == devicespec.VariantDesktop {
		return "aosc-os-oobe-gui"
	}
	return "aosc-os-oobe-cli"
}

// installFirstbootPackages installs the devena-firstboot package and the
// OOBE wizard, when the device asks for them.
func (ic *ImageContext) installFirstbootPackages(rootDir string, binds []string) error {
	if ic.Device.FirstbootTarget != "" {
		ic.infof("Installing devena-firstboot packages ...")
		pkg := fmt.Sprintf("devena-firstboot-%s", ic.Device.FirstbootTarget)
		err := ic.installPackages([]string{pkg}, rootDir, binds)
		if err != nil {
			return err
		}
	}

	if ic.Device.OobeWizard {
		ic.infof("Installing OOBE Wizard ...")
		err := ic.installPackages([]string{oobePackageFor(ic.Variant)}, rootDir, binds)
		if err != nil {
			return err
		}
	}
	return nil
}

// createFirstbootInitrd generates the devena-firstboot initramfs images,
// then purges the firstboot package so it does not linger in the shipped
// system.
func (ic *ImageContext) createFirstbootInitrd(rootDir string, binds []string) error {
	if ic.Device.FirstbootTarget == "" {
		return nil
	}

	ic.infof("Creating devena-firstboot initramfs images ...")
	chroot := safechroot.NewChroot(rootDir, binds)
	err := chroot.Run("/bin/bash", "-c", "--", "create-devena-initrd")
	if err != nil {
		return fmt.Errorf("failed to create the devena-firstboot initramfs:\n%w", err)
	}

	remove := fmt.Sprintf("oma remove --no-check-dbus --purge --yes devena-firstboot-%s",
		ic.Device.FirstbootTarget)
	err = chroot.Run("/bin/bash", "-c", "--", remove)
	if err != nil {
		return fmt.Errorf("failed to remove the devena-firstboot package:\n%w", err)
	}
	return nil
}
