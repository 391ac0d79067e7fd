// Package masks - Binary silhouettes: aggregation of raw segmenter output and
// polygon-based refinement.
package masks

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

const (
	// Background is the stored value of a background pixel.
	Background uint8 = 0
	// Foreground is the stored value of a foreground pixel.
	Foreground uint8 = 255
)

// ErrNoForegroundRegion is returned when a mask has no foreground pixels to refine.
var ErrNoForegroundRegion = errors.New("no foreground region")

// Mask is a Width x Height binary raster, one byte per pixel in row-major
// order. A pixel is foreground iff its byte is non-zero; masks produced by
// this package only ever store Background or Foreground.
//
// The byte layout matches a single channel 8-bit OpenCV matrix so the
// refiner can hand Pix to gocv without conversion.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask allocates an all-background mask.
func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

// Size returns the mask dimensions.
func (m *Mask) Size() (int, int) {
	return m.Width, m.Height
}

// At reports whether (x, y) is foreground. Out of range coordinates are background.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x] != Background
}

// Set marks (x, y) as foreground or background. Out of range coordinates are ignored.
func (m *Mask) Set(x, y int, fg bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	if fg {
		m.Pix[y*m.Width+x] = Foreground
	} else {
		m.Pix[y*m.Width+x] = Background
	}
}

// Count returns the number of foreground pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != Background {
			n++
		}
	}
	return n
}

// Bounds returns the tight, half-open rectangle enclosing every foreground
// pixel, or the empty rectangle when there is none.
//
// This is recomputed from the pixels on every call; refinement may move the
// silhouette away from the detector's original box.
func (m *Mask) Bounds() image.Rectangle {
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1
	for y := 0; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v == Background {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			maxY = y
		}
	}
	if maxX < 0 {
		return image.Rectangle{}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &Mask{Width: m.Width, Height: m.Height, Pix: pix}
}

// Gray renders the mask as a grayscale image, useful for debugging output.
func (m *Mask) Gray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		if v != Background {
			g.Pix[i] = uint8(color.White.Y)
		}
	}
	return g
}

// Valid reports whether m has a positive size and a pixel buffer of that size.
func (m *Mask) Valid() bool {
	return m != nil && m.Width > 0 && m.Height > 0 && len(m.Pix) == m.Width*m.Height
}
