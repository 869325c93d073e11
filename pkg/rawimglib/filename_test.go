package rawimglib

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aosc-dev/mkrawimg/devicespec"
)

func TestImageFilename(t *testing.T) {
	device := testDevice(false)
	date := time.Date(2024, 11, 8, 12, 0, 0, 0, time.UTC)

	name := ImageFilename(device, devicespec.VariantDesktop, date, 0, CompressionXz)
	assert.Equal(t, "aosc-os_desktop_rawimg_raspberrypi_rpi-5b_20241108_arm64.img.xz", name)
}

func TestImageFilenameWithRevision(t *testing.T) {
	device := testDevice(false)
	date := time.Date(2024, 11, 8, 12, 0, 0, 0, time.UTC)

	name := ImageFilename(device, devicespec.VariantBase, date, 1, CompressionZstd)
	assert.Equal(t, "aosc-os_base_rawimg_raspberrypi_rpi-5b_20241108.1_arm64.img.zst", name)
}

func TestImageFilenameNoCompression(t *testing.T) {
	device := testDevice(false)
	date := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	name := ImageFilename(device, devicespec.VariantServer, date, 0, CompressionNone)
	assert.Equal(t, "aosc-os_server_rawimg_raspberrypi_rpi-5b_20250102_arm64.img", name)
}
