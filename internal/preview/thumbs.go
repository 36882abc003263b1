package preview

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const thumbQuality = 80

// previewExtPattern matches the formats the thumbnailer can decode.
const previewExtPattern = `\.(jpe?g|png|gif|bmp|tiff?)$`

var previewExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true,
}

// CanPreview reports whether a thumbnail can be generated for the file name.
func CanPreview(name string) bool {
	return previewExtensions[strings.ToLower(filepath.Ext(name))]
}

// generateThumbnail decodes an image, applies EXIF orientation, fits it
// within maxEdge preserving aspect ratio, and returns JPEG bytes with the
// final dimensions.
func generateThumbnail(r io.Reader, orientation, maxEdge int) ([]byte, int, int, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, 0, 0, err
	}

	img = applyOrientation(img, orientation)
	thumb := imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)

	bounds := thumb.Bounds()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, 0, 0, err
	}

	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// applyOrientation transforms an image according to its EXIF orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
