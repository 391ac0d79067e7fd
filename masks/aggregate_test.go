package masks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRawMask_Validation(t *testing.T) {
	tests := []struct {
		name    string
		c, h, w int
		n       int
	}{
		{"zero channels", 0, 2, 2, 0},
		{"zero height", 1, 0, 2, 0},
		{"short buffer", 2, 2, 2, 7},
		{"long buffer", 1, 2, 2, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRawMask(tt.c, tt.h, tt.w, make([]float32, tt.n))
			assert.Error(t, err)
		})
	}
}

func TestAggregate_MeanThreshold(t *testing.T) {
	// Three channels over a 2x2 image, channel-major.
	data := []float32{
		// channel 0
		1, -1, 0.5, 0,
		// channel 1
		1, -1, -2, 0,
		// channel 2
		1, 3, 0.5, 0,
	}
	raw, err := NewRawMask(3, 2, 2, data)
	require.NoError(t, err)
	assert.Equal(t, 3, raw.Channels())
	assert.Equal(t, 2, raw.Height())
	assert.Equal(t, 2, raw.Width())

	m := Aggregate(raw)
	require.Equal(t, 2, m.Width)
	require.Equal(t, 2, m.Height)

	// mean(1,1,1)=1 -> fg, mean(-1,-1,3)=1/3 -> fg,
	// mean(0.5,-2,0.5)=-1/3 -> bg, mean(0,0,0)=0 -> bg (strictly positive required).
	assert.True(t, m.At(0, 0))
	assert.True(t, m.At(1, 0))
	assert.False(t, m.At(0, 1))
	assert.False(t, m.At(1, 1))
}

func TestAggregate_MatchesChannelMeanEverywhere(t *testing.T) {
	const c, h, w = 4, 9, 11
	data := make([]float32, c*h*w)
	for i := range data {
		// Deterministic signed pattern.
		data[i] = float32((i*7919)%23) - 11
	}
	raw, err := NewRawMask(c, h, w, data)
	require.NoError(t, err)

	m := Aggregate(raw)
	again := Aggregate(raw)
	assert.Equal(t, m.Pix, again.Pix, "aggregation must be deterministic")

	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float32
			for ch := 0; ch < c; ch++ {
				sum += data[ch*plane+y*w+x]
			}
			assert.Equal(t, sum/c > 0, m.At(x, y), "pixel (%d,%d)", x, y)
		}
	}
}

func TestAggregate_AllBackground(t *testing.T) {
	raw, err := NewRawMask(3, 100, 100, make([]float32, 3*100*100))
	require.NoError(t, err)

	m := Aggregate(raw)
	assert.Equal(t, 0, m.Count())
	assert.True(t, m.Bounds().Empty())
}

func TestMask_Bounds(t *testing.T) {
	m := NewMask(50, 40)
	m.Set(10, 12, true)
	m.Set(19, 30, true)
	m.Set(-1, 5, true) // ignored

	b := m.Bounds()
	assert.Equal(t, 10, b.Min.X)
	assert.Equal(t, 12, b.Min.Y)
	assert.Equal(t, 20, b.Max.X)
	assert.Equal(t, 31, b.Max.Y)
	assert.Equal(t, 2, m.Count())

	clone := m.Clone()
	clone.Set(10, 12, false)
	assert.True(t, m.At(10, 12), "clone must not alias the original")
}
