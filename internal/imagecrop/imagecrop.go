// Package imagecrop cuts detection regions out of frames and encodes them for
// storage and the classifier.
package imagecrop

import (
	"bytes"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/tphakala/spotit-go/internal/detection"
	"github.com/tphakala/spotit-go/internal/errors"
)

const (
	// DefaultQuality is the JPEG quality of crops
	DefaultQuality = 85
	// DefaultMaxWidth bounds the width of images sent to the classifier
	DefaultMaxWidth = 640
	// DefaultResizeQuality is the JPEG quality of resized images
	DefaultResizeQuality = 80
)

// ScaleRect maps r from a from-sized coordinate space (the model input) into a
// to-sized one (the source image).
func ScaleRect(r detection.Rect, from, to image.Point) detection.Rect {
	if from.X <= 0 || from.Y <= 0 {
		return r
	}
	sx := float64(to.X) / float64(from.X)
	sy := float64(to.Y) / float64(from.Y)
	return detection.Rect{X: r.X * sx, Y: r.Y * sy, W: r.W * sx, H: r.H * sy}
}

// Clamp rounds r to whole pixels and clips it to bounds. ok is false when
// nothing of r lies inside bounds.
func Clamp(r detection.Rect, bounds image.Rectangle) (image.Rectangle, bool) {
	x0 := int(math.Round(r.X))
	y0 := int(math.Round(r.Y))
	x1 := x0 + int(math.Round(r.W))
	y1 := y0 + int(math.Round(r.H))
	clipped := image.Rect(x0, y0, x1, y1).Intersect(bounds)
	return clipped, !clipped.Empty()
}

// Crop cuts r out of img and returns it JPEG encoded. quality <= 0 uses
// DefaultQuality.
func Crop(img image.Image, r detection.Rect, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.Newf("no image to crop").Category(errors.CategoryImageProcess).Build()
	}
	rect, ok := Clamp(r, img.Bounds())
	if !ok {
		return nil, errors.Newf("crop region lies outside the image").
			Category(errors.CategoryImageProcess).
			Context("region", r).
			Context("bounds", img.Bounds().String()).
			Build()
	}
	return EncodeJPEG(imaging.Crop(img, rect), quality)
}

// ResizeJPEG scales img down to maxWidth, keeping its aspect ratio, and encodes
// it. Narrower images are encoded unscaled.
func ResizeJPEG(img image.Image, maxWidth, quality int) ([]byte, error) {
	if img == nil {
		return nil, errors.Newf("no image to resize").Category(errors.CategoryImageProcess).Build()
	}
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if quality <= 0 {
		quality = DefaultResizeQuality
	}
	if img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}
	return EncodeJPEG(img, quality)
}

// EncodeJPEG encodes img as JPEG
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, errors.New(err).Category(errors.CategoryImageProcess).Build()
	}
	return buf.Bytes(), nil
}

// Decode decodes encoded image bytes
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryImageProcess).Build()
	}
	return img, nil
}
