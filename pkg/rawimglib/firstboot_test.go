package rawimglib

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aosc-dev/mkrawimg/devicespec"
)

func TestOobePackageSelection(t *testing.T) {
	assert.Equal(t, "aosc-os-oobe-gui", oobePackageFor(devicespec.VariantDesktop))
	assert.Equal(t, "aosc-os-oobe-cli", oobePackageFor(devicespec.VariantBase))
	assert.Equal(t, "aosc-os-oobe-cli", oobePackageFor(devicespec.VariantServer))
}
