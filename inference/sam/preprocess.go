// Package sam - Box-prompted Segment Anything inference over ONNX Runtime.
package sam

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/nvr-ai/regionswap/common"
)

// InputSize is the side length of the square encoder input.
const InputSize = 1024

// Per-channel RGB normalisation constants used when the model was trained.
var (
	pixelMean = [3]float32{123.675, 116.28, 103.53}
	pixelStd  = [3]float32{58.395, 57.12, 57.375}
)

// Transform maps original image coordinates into encoder input coordinates.
type Transform struct {
	OrigW, OrigH int
	NewW, NewH   int
}

// NewTransform scales the longest side of a w x h image to InputSize,
// rounding the other side to the nearest pixel.
func NewTransform(w, h int) (Transform, error) {
	if w <= 0 || h <= 0 {
		return Transform{}, fmt.Errorf("invalid image size %dx%d", w, h)
	}
	scale := float32(InputSize) / float32(max(w, h))
	return Transform{
		OrigW: w,
		OrigH: h,
		NewW:  int(math32.Floor(float32(w)*scale + 0.5)),
		NewH:  int(math32.Floor(float32(h)*scale + 0.5)),
	}, nil
}

// ApplyPoint scales an original image point into encoder input space.
func (t Transform) ApplyPoint(x, y float32) (float32, float32) {
	return x * float32(t.NewW) / float32(t.OrigW), y * float32(t.NewH) / float32(t.OrigH)
}

// Preprocess resizes img so its longest side is InputSize, normalises each
// channel and zero pads to a square, returning a (3, InputSize, InputSize)
// channel-major buffer.
//
// Arguments:
//   - img: The source image.
//
// Returns:
//   - []float32: The encoder input.
//   - Transform: The coordinate mapping for prompts.
//   - error: An error if img is empty.
func Preprocess(img image.Image) ([]float32, Transform, error) {
	b := img.Bounds()
	t, err := NewTransform(b.Dx(), b.Dy())
	if err != nil {
		return nil, Transform{}, err
	}

	resized := resize.Resize(uint(t.NewW), uint(t.NewH), img, resize.Bilinear)
	rb := resized.Bounds()

	channelSize := InputSize * InputSize
	data := make([]float32, 3*channelSize)
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	for y := 0; y < t.NewH && y < rb.Dy(); y++ {
		for x := 0; x < t.NewW && x < rb.Dx(); x++ {
			r, g, bl, _ := resized.At(rb.Min.X+x, rb.Min.Y+y).RGBA()
			i := y*InputSize + x
			red[i] = (float32(r>>8) - pixelMean[0]) / pixelStd[0]
			green[i] = (float32(g>>8) - pixelMean[1]) / pixelStd[1]
			blue[i] = (float32(bl>>8) - pixelMean[2]) / pixelStd[2]
		}
	}
	return data, t, nil
}

// BoxPrompt encodes a box as the decoder's point prompt: the top-left corner
// labelled 2, the bottom-right corner labelled 3 and a padding point labelled
// -1. Coordinates are returned as (3, 2) row-major pairs.
func BoxPrompt(box common.BoundingBox, t Transform) (coords []float32, labels []float32) {
	x0, y0 := t.ApplyPoint(float32(box.XMin), float32(box.YMin))
	x1, y1 := t.ApplyPoint(float32(box.XMax), float32(box.YMax))
	return []float32{x0, y0, x1, y1, 0, 0}, []float32{2, 3, -1}
}
