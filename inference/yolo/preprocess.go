package yolo

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// PrepareInput stretches img to size x size and writes it into dst as planar
// RGB scaled to [0, 1].
//
// Arguments:
//   - img: The image to prepare.
//   - size: The model's square input side.
//   - dst: The destination buffer, at least 3*size*size floats.
//
// Returns:
//   - error: An error if dst is too small.
func PrepareInput(img image.Image, size int, dst []float32) error {
	channelSize := size * size
	if len(dst) < channelSize*3 {
		return fmt.Errorf("destination holds %d floats, needs %d", len(dst), channelSize*3)
	}
	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	b := resized.Bounds()

	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(bl>>8) / 255.0
			i++
		}
	}
	return nil
}
