package common

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBoundingBox(t *testing.T) {
	bounds := image.Rect(0, 0, 200, 100)

	tests := []struct {
		name           string
		x1, y1, x2, y2 float64
		expected       BoundingBox
	}{
		{
			name: "Already canonical",
			x1:   10, y1: 20, x2: 50, y2: 60,
			expected: BoundingBox{XMin: 10, YMin: 20, XMax: 50, YMax: 60},
		},
		{
			name: "Inverted corners are swapped",
			x1:   50, y1: 60, x2: 10, y2: 20,
			expected: BoundingBox{XMin: 10, YMin: 20, XMax: 50, YMax: 60},
		},
		{
			name: "Fractional coordinates are rounded",
			x1:   10.4, y1: 20.6, x2: 49.5, y2: 59.2,
			expected: BoundingBox{XMin: 10, YMin: 21, XMax: 50, YMax: 59},
		},
		{
			name: "Clamped to image bounds",
			x1:   -15, y1: -3, x2: 250, y2: 140,
			expected: BoundingBox{XMin: 0, YMin: 0, XMax: 199, YMax: 99},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			box, err := NewBoundingBox(tt.x1, tt.y1, tt.x2, tt.y2, bounds)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, box)
			assert.LessOrEqual(t, box.XMin, box.XMax)
			assert.LessOrEqual(t, box.YMin, box.YMax)
		})
	}
}

func TestNewBoundingBox_EmptyBounds(t *testing.T) {
	_, err := NewBoundingBox(0, 0, 10, 10, image.Rectangle{})
	assert.Error(t, err)
}

func TestBoundingBox_IoU(t *testing.T) {
	a := BoundingBox{XMin: 0, YMin: 0, XMax: 99, YMax: 99}

	assert.InDelta(t, 1.0, a.IoU(a), 1e-9)
	assert.InDelta(t, 1.0/7.0, a.IoU(BoundingBox{XMin: 50, YMin: 50, XMax: 149, YMax: 149}), 1e-3)
	assert.InDelta(t, 0.0, a.IoU(BoundingBox{XMin: 100, YMin: 0, XMax: 199, YMax: 99}), 1e-9)
	assert.InDelta(t, 0.25, a.IoU(BoundingBox{XMin: 25, YMin: 25, XMax: 74, YMax: 74}), 1e-9)
}

func TestBoundingBox_ToRect(t *testing.T) {
	box := BoundingBox{XMin: 5, YMin: 5, XMax: 14, YMax: 14}
	rect := box.ToRect()

	assert.Equal(t, image.Rect(5, 5, 15, 15), rect)
	assert.Equal(t, 100, box.Area())
	assert.Equal(t, [4]int{5, 5, 14, 14}, box.XYXY())
}

func TestPolygon(t *testing.T) {
	square := Polygon{{5, 5}, {14, 5}, {14, 14}, {5, 14}}

	assert.True(t, square.Valid())
	assert.InDelta(t, 81.0, square.Area(), 1e-9)
	assert.Equal(t, image.Rect(5, 5, 15, 15), square.Bounds())

	assert.False(t, Polygon{{1, 1}, {2, 2}}.Valid())
	assert.Zero(t, Polygon{{1, 1}}.Area())
	assert.True(t, Polygon{}.Bounds().Empty())
}

func TestBoxes(t *testing.T) {
	detections := []Detection{
		{Score: 0.9, Label: "Rug.", Box: BoundingBox{XMin: 1, YMin: 1, XMax: 2, YMax: 2}},
		{Score: 0.4, Label: "Rug.", Box: BoundingBox{XMin: 3, YMin: 3, XMax: 4, YMax: 4}},
	}

	boxes := Boxes(detections)
	require.Len(t, boxes, 2)
	assert.Equal(t, detections[0].Box, boxes[0])
	assert.Equal(t, detections[1].Box, boxes[1])
}
