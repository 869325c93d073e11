package rawimglib

import (
	"fmt"
	"time"

	"github.com/aosc-dev/mkrawimg/devicespec"
)

// ImageFilename builds the output filename of an image, e.g.
// aosc-os_desktop_rawimg_raspberrypi_rpi-5b_20241108.1_arm64.img.xz.
// revision 0 omits the revision part.
func ImageFilename(device *devicespec.Device, variant devicespec.Variant, date time.Time,
	revision uint32, compression Compression,
) string {
	revisionPart := ""
	if revision > 0 {
		revisionPart = fmt.Sprintf(".%d", revision)
	}
	return fmt.Sprintf("aosc-os_%s_rawimg_%s_%s_%s%s_%s.img%s",
		variant, device.Vendor, device.ID, date.UTC().Format("20060102"),
		revisionPart, device.Arch, compression.Extension())
}
