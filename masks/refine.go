package masks

import (
	"image"
	"image/color"

	"github.com/nvr-ai/regionswap/common"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var fillColor = color.RGBA{R: Foreground, G: Foreground, B: Foreground, A: Foreground}

// Refine replaces a noisy binary mask with the filled outline of its largest
// connected region.
//
// Secondary blobs and speckle noise disappear, and the kept region's boundary
// becomes a filled polygon. Holes inside that boundary are filled, so a ring
// comes back as a solid disc. The operation is pure: the same input always
// yields the same output, and the input is not modified.
//
// Arguments:
//   - m: The aggregated mask.
//
// Returns:
//   - *Mask: A new mask of the same size holding a single region.
//   - error: ErrNoForegroundRegion if m has no foreground pixels.
func Refine(m *Mask) (*Mask, error) {
	polygon, err := LargestPolygon(m)
	if err != nil {
		return nil, err
	}
	return Rasterize(polygon, m.Width, m.Height)
}

// LargestPolygon traces the external contours of the 8-connected foreground
// regions in m and returns the one enclosing the largest area.
//
// Ties go to the contour encountered first by the tracing pass. Holes are
// not separate contours.
//
// Arguments:
//   - m: The mask to trace.
//
// Returns:
//   - common.Polygon: The largest contour's vertices in trace order.
//   - error: ErrNoForegroundRegion if there is nothing to trace.
func LargestPolygon(m *Mask) (common.Polygon, error) {
	if !m.Valid() {
		return nil, errors.New("malformed mask")
	}
	if m.Count() == 0 {
		return nil, ErrNoForegroundRegion
	}

	mat, err := gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8UC1, m.Pix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to wrap mask")
	}
	defer mat.Close()

	contours := gocv.FindContours(mat, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return nil, ErrNoForegroundRegion
	}

	best := 0
	bestArea := gocv.ContourArea(contours.At(0))
	for i := 1; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			best = i
			bestArea = area
		}
	}

	return common.Polygon(contours.At(best).ToPoints()), nil
}

// Rasterize fills a polygon into a new width x height mask.
//
// Traced outlines of one or two pixels wide regions collapse to fewer than
// three vertices; those are drawn as a point or a segment instead of filled.
//
// Arguments:
//   - p: The polygon to fill.
//   - width, height: Output mask size.
//
// Returns:
//   - *Mask: The filled mask.
//   - error: An error if the polygon is empty or the size is not positive.
func Rasterize(p common.Polygon, width, height int) (*Mask, error) {
	if len(p) == 0 {
		return nil, ErrNoForegroundRegion
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid mask size %dx%d", width, height)
	}

	canvas := gocv.Zeros(height, width, gocv.MatTypeCV8UC1)
	defer canvas.Close()

	if p.Valid() {
		pts := gocv.NewPointsVectorFromPoints([][]image.Point{p})
		defer pts.Close()
		gocv.FillPoly(&canvas, pts, fillColor)
	} else {
		gocv.Line(&canvas, p[0], p[len(p)-1], fillColor, 1)
	}

	data, err := canvas.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read rasterized mask")
	}

	out := NewMask(width, height)
	for i, v := range data[:len(out.Pix)] {
		if v != Background {
			out.Pix[i] = Foreground
		}
	}
	return out, nil
}
