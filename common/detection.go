package common

import "fmt"

// Detection is a single detector hit for a label phrase, as reported by the
// detection collaborator.
type Detection struct {
	Score float64
	Label string
	Box   BoundingBox
}

func (d Detection) String() string {
	return fmt.Sprintf("%s (score %.3f): %s", d.Label, d.Score, d.Box)
}

// Boxes extracts the boxes of the given detections, preserving order.
func Boxes(detections []Detection) []BoundingBox {
	boxes := make([]BoundingBox, len(detections))
	for i, d := range detections {
		boxes[i] = d.Box
	}
	return boxes
}
