package devicespec

import "fmt"

// Distro is the system distribution an image carries. It decides the package
// manager driven inside the image and the default hostname prefix.
type Distro string

const (
	DistroAOSC      Distro = "aosc"
	DistroDebian    Distro = "debian"
	DistroUbuntu    Distro = "ubuntu"
	DistroArchLinux Distro = "archlinux"
	DistroFedora    Distro = "fedora"
)

func (d Distro) IsValid() error {
	switch d {
	case DistroAOSC, DistroDebian, DistroUbuntu, DistroArchLinux, DistroFedora, "":
		return nil
	default:
		return fmt.Errorf("invalid distro value (%s)", d)
	}
}

func (d *Distro) UnmarshalText(text []byte) error {
	value := Distro(text)
	if err := value.IsValid(); err != nil {
		return err
	}
	*d = value
	return nil
}

// HostnamePrefix returns the distribution part of generated hostnames.
func (d Distro) HostnamePrefix() string {
	switch d {
	case DistroDebian:
		return "debian"
	case DistroUbuntu:
		return "ubuntu"
	case DistroArchLinux:
		return "archlinux"
	case DistroFedora:
		return "fedora"
	default:
		return "aosc"
	}
}
