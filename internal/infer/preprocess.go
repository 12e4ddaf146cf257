package infer

import (
	"image"

	"github.com/disintegration/imaging"
)

// Preprocessing describes the input transform of the Caffe deploy model.
type Preprocessing struct {
	// Size is the square input edge in pixels.
	Size int

	// Mean is subtracted per channel, in BGR order, on the 0-255 scale.
	Mean [3]float32

	// Scale multiplies each value after mean subtraction.
	Scale float32
}

// DefaultImageResize is the input edge of the 304x304 Pelee model.
const DefaultImageResize = 304

// DefaultPreprocessing returns the Pelee transform for a size x size input.
func DefaultPreprocessing(size int) Preprocessing {
	return Preprocessing{
		Size:  size,
		Mean:  [3]float32{103.94, 116.78, 123.68},
		Scale: 0.017,
	}
}

// Apply resizes img and returns a [3, Size, Size] buffer, channel-first, BGR:
//
//	out[c][y][x] = (pixel_c(x, y) - Mean[c]) * Scale
func (p Preprocessing) Apply(img image.Image) []float32 {
	resized := imaging.Resize(img, p.Size, p.Size, imaging.Linear)

	plane := p.Size * p.Size
	out := make([]float32, 3*plane)
	for y := 0; y < p.Size; y++ {
		row := resized.Pix[y*resized.Stride:]
		for x := 0; x < p.Size; x++ {
			i := y*p.Size + x
			r := float32(row[x*4])
			g := float32(row[x*4+1])
			b := float32(row[x*4+2])
			out[i] = (b - p.Mean[0]) * p.Scale
			out[plane+i] = (g - p.Mean[1]) * p.Scale
			out[2*plane+i] = (r - p.Mean[2]) * p.Scale
		}
	}
	return out
}
