package inference

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/pkg/errors"
)

// Grid renders n images of side size in one row, with the reconstructions
// in a second row below the originals.
func Grid(originals, reconstructions []float32, n, size int) *image.Gray {
	var rows = 1
	if reconstructions != nil {
		rows = 2
	}
	img := image.NewGray(image.Rect(0, 0, n*size, rows*size))
	for row, src := range [][]float32{originals, reconstructions} {
		if src == nil {
			continue
		}
		for i := 0; i < n; i++ {
			for y := 0; y < size; y++ {
				for x := 0; x < size; x++ {
					v := src[i*size*size+y*size+x]
					if v < 0 {
						v = 0
					} else if v > 1 {
						v = 1
					}
					img.SetGray(i*size+x, row*size+y, color.Gray{Y: uint8(v*255 + 0.5)})
				}
			}
		}
	}
	return img
}

// WriteGrid writes Grid as a PNG file.
func WriteGrid(path string, originals, reconstructions []float32, n, size int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := png.Encode(f, Grid(originals, reconstructions, n, size)); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
