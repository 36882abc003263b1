package preview

import (
	"io"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// exifInfo carries the EXIF fields previews care about.
type exifInfo struct {
	Orientation int
	TakenAt     *time.Time
}

// readExif extracts orientation and shot time. Images without EXIF get
// the identity orientation.
func readExif(r io.Reader) exifInfo {
	info := exifInfo{Orientation: 1}

	x, err := exif.Decode(r)
	if err != nil {
		return info
	}

	if orient, err := x.Get(exif.Orientation); err == nil {
		if v, err := orient.Int(0); err == nil && v >= 1 && v <= 8 {
			info.Orientation = v
		}
	}

	if dt, err := x.DateTime(); err == nil {
		info.TakenAt = &dt
	}

	return info
}
