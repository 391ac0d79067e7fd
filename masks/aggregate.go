package masks

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// RawMask is the probability-valued output of the segmentation collaborator
// for one detection: a (channels, height, width) float32 tensor aligned to the
// source image. Each channel is a signed confidence (logit); positive means
// foreground.
type RawMask struct {
	t *tensor.Dense
}

// NewRawMask wraps a channel-major float32 buffer of length channels*height*width.
//
// Arguments:
//   - channels: Number of candidate masks stacked for the detection (>= 1).
//   - height, width: Spatial size; must match the source image.
//   - data: The backing buffer. It is not copied.
//
// Returns:
//   - *RawMask: The wrapped mask.
//   - error: An error if the dimensions are not positive or do not match len(data).
func NewRawMask(channels, height, width int, data []float32) (*RawMask, error) {
	if channels < 1 || height < 1 || width < 1 {
		return nil, errors.Errorf("invalid raw mask shape (%d, %d, %d)", channels, height, width)
	}
	if len(data) != channels*height*width {
		return nil, errors.Errorf("raw mask shape (%d, %d, %d) needs %d values, got %d",
			channels, height, width, channels*height*width, len(data))
	}
	return &RawMask{
		t: tensor.New(tensor.WithShape(channels, height, width), tensor.WithBacking(data)),
	}, nil
}

// Channels returns the number of stacked channels.
func (r *RawMask) Channels() int { return r.t.Shape()[0] }

// Height returns the spatial height.
func (r *RawMask) Height() int { return r.t.Shape()[1] }

// Width returns the spatial width.
func (r *RawMask) Width() int { return r.t.Shape()[2] }

// Data returns the channel-major backing buffer.
func (r *RawMask) Data() []float32 {
	return r.t.Data().([]float32)
}

// Aggregate collapses a raw mask into one binary decision surface.
//
// For each pixel the channel values are averaged and the pixel is foreground
// iff the mean is strictly positive. Every well-formed RawMask yields a mask,
// including an all-background one.
//
// Arguments:
//   - raw: The raw mask for one detection.
//
// Returns:
//   - *Mask: A new mask with the raw mask's spatial size.
func Aggregate(raw *RawMask) *Mask {
	c, h, w := raw.Channels(), raw.Height(), raw.Width()
	data := raw.Data()
	plane := h * w

	out := NewMask(w, h)
	for i := 0; i < plane; i++ {
		var sum float32
		for ch := 0; ch < c; ch++ {
			sum += data[ch*plane+i]
		}
		if sum/float32(c) > 0 {
			out.Pix[i] = Foreground
		}
	}
	return out
}
