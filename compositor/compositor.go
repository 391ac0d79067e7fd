// Package compositor - Mask-guided replacement of image regions.
package compositor

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/regionswap/masks"
	"github.com/pkg/errors"
)

var (
	// ErrEmptyRegion is returned when the mask has no foreground rectangle to fill.
	ErrEmptyRegion = errors.New("empty region")
	// ErrMaskMismatch is returned when the mask and base image sizes differ.
	ErrMaskMismatch = errors.New("mask does not match image size")
	// ErrResize is returned when the replacement image cannot be resized.
	ErrResize = errors.New("resize failed")
)

// Composite replaces the pixels of base that lie under the mask's foreground
// with a copy of replacement stretched over the mask's tight bounding rectangle.
//
// The rectangle is recomputed from the mask rather than taken from the
// detector box, since refinement may reshape the silhouette. Pixels outside
// the rectangle, and background pixels inside it, are never written.
// base is modified destructively; callers that need the original must copy it
// first. Compositing the same replacement into the same mask twice yields the
// same pixels as doing it once, and when several masks overlap the last one
// composited wins.
//
// Arguments:
//   - base: The image to modify in place.
//   - m: The silhouette; must have the same size as base.
//   - replacement: The image to paint, any size.
//
// Returns:
//   - error: ErrMaskMismatch, ErrEmptyRegion or ErrResize. On error base is untouched.
func Composite(base *image.RGBA, m *masks.Mask, replacement image.Image) error {
	if base == nil || m == nil {
		return errors.Wrap(ErrMaskMismatch, "nil image or mask")
	}
	if !m.Valid() {
		return errors.Wrapf(ErrMaskMismatch, "malformed mask %dx%d with %d pixels", m.Width, m.Height, len(m.Pix))
	}
	origin := base.Bounds().Min
	if m.Width != base.Bounds().Dx() || m.Height != base.Bounds().Dy() {
		return errors.Wrapf(ErrMaskMismatch, "mask %dx%d, image %dx%d",
			m.Width, m.Height, base.Bounds().Dx(), base.Bounds().Dy())
	}

	region := m.Bounds()
	if region.Dx() <= 0 || region.Dy() <= 0 {
		return ErrEmptyRegion
	}

	fitted, err := Fit(replacement, region.Dx(), region.Dy())
	if err != nil {
		return err
	}

	if src, ok := fitted.(*image.RGBA); ok {
		copyRGBA(base, m, region, src)
		return nil
	}

	fb := fitted.Bounds()
	for j := 0; j < region.Dy(); j++ {
		y := region.Min.Y + j
		for i := 0; i < region.Dx(); i++ {
			x := region.Min.X + i
			if !m.At(x, y) {
				continue
			}
			c := color.RGBAModel.Convert(fitted.At(fb.Min.X+i, fb.Min.Y+j)).(color.RGBA)
			c.A = 0xff
			base.SetRGBA(origin.X+x, origin.Y+y, c)
		}
	}
	return nil
}

// copyRGBA is the inner loop of Composite for RGBA replacements, walking both
// pixel buffers directly. src covers exactly region.
func copyRGBA(base *image.RGBA, m *masks.Mask, region image.Rectangle, src *image.RGBA) {
	origin := base.Rect.Min
	for j := 0; j < region.Dy(); j++ {
		y := region.Min.Y + j
		srcRow := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+j)
		dstRow := base.PixOffset(origin.X+region.Min.X, origin.Y+y)
		maskRow := y*m.Width + region.Min.X
		for i := 0; i < region.Dx(); i++ {
			if m.Pix[maskRow+i] == masks.Background {
				continue
			}
			s, d := srcRow+4*i, dstRow+4*i
			copy(base.Pix[d:d+3], src.Pix[s:s+3])
			base.Pix[d+3] = 0xff
		}
	}
}

// Fit resizes img to exactly width x height using bilinear interpolation.
//
// Arguments:
//   - img: The source image; any non-empty size.
//   - width, height: The target size; both must be positive.
//
// Returns:
//   - image.Image: The resized image with bounds (0,0)-(width,height).
//   - error: ErrResize for a nil or empty source or a non-positive target.
func Fit(img image.Image, width, height int) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.Wrap(ErrResize, "replacement image is empty")
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrResize, "invalid target size %dx%d", width, height)
	}

	out := resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	if b := out.Bounds(); b.Dx() != width || b.Dy() != height {
		return nil, errors.Wrapf(ErrResize, "resized to %dx%d, want %dx%d", b.Dx(), b.Dy(), width, height)
	}
	return out, nil
}
