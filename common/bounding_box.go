// Package common - Geometry primitives shared by the detection, mask and compositing stages.
package common

import (
	"fmt"
	"image"
	"math"
)

// BoundingBox is an integer, axis-aligned box in source image pixel space.
//
// XMax and YMax are inclusive, matching the corner coordinates reported by the
// detection collaborator. A BoundingBox is only produced by NewBoundingBox and
// is never modified afterwards.
type BoundingBox struct {
	XMin, YMin, XMax, YMax int
}

// NewBoundingBox builds a BoundingBox from (possibly fractional, possibly inverted)
// corner coordinates and clamps it to the given image bounds.
//
// Arguments:
//   - x1, y1, x2, y2: The corner coordinates reported by a detector.
//   - bounds: The bounds of the image the box belongs to.
//
// Returns:
//   - BoundingBox: The canonical box with XMin <= XMax and YMin <= YMax, inside
//     [0, width) x [0, height).
//   - error: An error if bounds is empty.
//
// @example
// box, err := NewBoundingBox(120.4, 80, 40, 300.7, image.Rect(0, 0, 200, 200))
// // box == BoundingBox{XMin: 40, YMin: 80, XMax: 120, YMax: 199}
func NewBoundingBox(x1, y1, x2, y2 float64, bounds image.Rectangle) (BoundingBox, error) {
	if bounds.Empty() {
		return BoundingBox{}, fmt.Errorf("cannot place box in empty bounds %v", bounds)
	}

	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}

	w, h := bounds.Dx(), bounds.Dy()
	return BoundingBox{
		XMin: clampInt(int(math.Round(x1)), 0, w-1),
		YMin: clampInt(int(math.Round(y1)), 0, h-1),
		XMax: clampInt(int(math.Round(x2)), 0, w-1),
		YMax: clampInt(int(math.Round(y2)), 0, h-1),
	}, nil
}

// XYXY returns the box corners in (xmin, ymin, xmax, ymax) order, the layout
// expected by box-prompted segmenters.
func (b BoundingBox) XYXY() [4]int {
	return [4]int{b.XMin, b.YMin, b.XMax, b.YMax}
}

// ToRect converts the box to a half-open image.Rectangle covering the same pixels.
func (b BoundingBox) ToRect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax+1, b.YMax+1)
}

// Area returns the number of pixels covered by the box.
func (b BoundingBox) Area() int {
	return (b.XMax - b.XMin + 1) * (b.YMax - b.YMin + 1)
}

// IoU calculates the Intersection over Union between two boxes.
//
// Arguments:
//   - other: The other bounding box to calculate IoU with.
//
// Returns:
//   - The IoU value between 0 and 1.
//
// @example
// a := BoundingBox{XMin: 0, YMin: 0, XMax: 99, YMax: 99}
// b := BoundingBox{XMin: 50, YMin: 50, XMax: 149, YMax: 149}
// iou := a.IoU(b) // ~0.143 (2500/17500)
func (b BoundingBox) IoU(other BoundingBox) float64 {
	inter := b.ToRect().Intersect(other.ToRect()).Size()
	interArea := inter.X * inter.Y
	union := b.Area() + other.Area() - interArea
	if union <= 0 {
		return 0
	}
	return float64(interArea) / float64(union)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d, %d)-(%d, %d)", b.XMin, b.YMin, b.XMax, b.YMax)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
