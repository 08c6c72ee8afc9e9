package inference

import (
	"image"

	"github.com/disintegration/imaging"
)

// Preprocess resizes img to size x size and returns its pixels as NHWC float32
// RGB values in [0,1]. The aspect ratio is not preserved.
func Preprocess(img image.Image, size int) []float32 {
	if img == nil || size <= 0 {
		return nil
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil
	}

	var nrgba *image.NRGBA
	if b.Dx() == size && b.Dy() == size {
		nrgba = imaging.Clone(img)
	} else {
		nrgba = imaging.Resize(img, size, size, imaging.Linear)
	}

	out := make([]float32, 0, size*size*3)
	for y := range size {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+size*4]
		for x := 0; x < len(row); x += 4 {
			out = append(out,
				float32(row[x])/255,
				float32(row[x+1])/255,
				float32(row[x+2])/255)
		}
	}
	return out
}
