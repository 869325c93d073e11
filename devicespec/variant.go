package devicespec

import "fmt"

// Variant is a system distribution flavor an image can be built from.
type Variant string

const (
	VariantBase    Variant = "base"
	VariantDesktop Variant = "desktop"
	VariantServer  Variant = "server"
)

// AllVariants lists the variants in build order.
var AllVariants = []Variant{VariantBase, VariantDesktop, VariantServer}

func (v Variant) IsValid() error {
	switch v {
	case VariantBase, VariantDesktop, VariantServer:
		return nil
	default:
		return fmt.Errorf("invalid variant value (%s)", v)
	}
}

func (v *Variant) UnmarshalText(text []byte) error {
	value := Variant(text)
	if err := value.IsValid(); err != nil {
		return err
	}
	*v = value
	return nil
}

// VariantSizes holds the total image size for each variant, in MiB.
type VariantSizes struct {
	Base    uint64 `toml:"base"`
	Desktop uint64 `toml:"desktop"`
	Server  uint64 `toml:"server"`
}

// SizeMiB returns the image size for the variant in MiB.
func (s VariantSizes) SizeMiB(variant Variant) uint64 {
	switch variant {
	case VariantDesktop:
		return s.Desktop
	case VariantServer:
		return s.Server
	default:
		return s.Base
	}
}

func (s VariantSizes) IsValid() error {
	if s.Base == 0 || s.Desktop == 0 || s.Server == 0 {
		return fmt.Errorf("image sizes must be set for all variants")
	}
	return nil
}
