package devicespec

import (
	"fmt"
	"runtime"
)

// Arch is a target CPU architecture of a supported device.
type Arch string

const (
	ArchAmd64       Arch = "amd64"
	ArchArm64       Arch = "arm64"
	ArchLoongArch64 Arch = "loongarch64"
	ArchPpc64el     Arch = "ppc64el"
	ArchLoongson3   Arch = "loongson3"
	ArchRiscv64     Arch = "riscv64"
	ArchMips64r6el  Arch = "mips64r6el"
)

func (a Arch) IsValid() error {
	switch a {
	case ArchAmd64, ArchArm64, ArchLoongArch64, ArchPpc64el, ArchLoongson3, ArchRiscv64,
		ArchMips64r6el:
		return nil
	default:
		return fmt.Errorf("invalid arch value (%s)", a)
	}
}

func (a *Arch) UnmarshalText(text []byte) error {
	value := Arch(text)
	if err := value.IsValid(); err != nil {
		return err
	}
	*a = value
	return nil
}

// NativeArch returns the architecture the tool itself runs on, or "" when
// the host architecture hosts no supported device.
func NativeArch() Arch {
	switch runtime.GOARCH {
	case "amd64":
		return ArchAmd64
	case "arm64":
		return ArchArm64
	case "loong64":
		return ArchLoongArch64
	case "mips64le":
		return ArchLoongson3
	case "riscv64":
		return ArchRiscv64
	case "ppc64le":
		return ArchPpc64el
	default:
		return ""
	}
}

// IsNative reports whether images for this architecture can be built without
// emulation.
func (a Arch) IsNative() bool {
	return a == NativeArch()
}

// QemuBinfmtName returns the qemu userspace emulator binfmt name used when
// building a foreign architecture.
func (a Arch) QemuBinfmtName() string {
	switch a {
	case ArchAmd64:
		return "qemu-x86_64"
	case ArchArm64:
		return "qemu-aarch64"
	case ArchLoongArch64:
		return "qemu-loongarch64"
	case ArchPpc64el:
		return "qemu-ppc64le"
	case ArchLoongson3, ArchMips64r6el:
		return "qemu-mips64el"
	case ArchRiscv64:
		return "qemu-riscv64"
	default:
		return ""
	}
}
