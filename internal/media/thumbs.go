package media

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

const (
	ThumbMaxSize = 400
	ThumbQuality = 80
)

// ExtractOrientation reads the EXIF orientation tag from an image.
// Missing or unreadable EXIF yields the identity orientation.
func ExtractOrientation(r io.Reader) int {
	x, err := exif.Decode(r)
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// GenerateThumbnail decodes an image, fits it within ThumbMaxSize square
// preserving aspect ratio, applies EXIF orientation correction, and returns
// the JPEG bytes with the thumbnail's dimensions.
func GenerateThumbnail(r io.Reader, orientation int) ([]byte, int, int, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, 0, 0, err
	}

	img = applyOrientation(img, orientation)
	thumb := imaging.Fit(img, ThumbMaxSize, ThumbMaxSize, imaging.Lanczos)

	bounds := thumb.Bounds()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: ThumbQuality}); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// applyOrientation transforms an image according to its EXIF orientation.
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
