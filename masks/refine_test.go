package masks

import (
	"image"
	"testing"

	"github.com/nvr-ai/regionswap/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillRect marks the half-open rectangle r as foreground.
func fillRect(m *Mask, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Set(x, y, true)
		}
	}
}

// components counts 8-connected foreground regions.
func components(m *Mask) int {
	seen := make([]bool, len(m.Pix))
	n := 0
	for start := range m.Pix {
		if m.Pix[start] == Background || seen[start] {
			continue
		}
		n++
		stack := []int{start}
		seen[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%m.Width, i/m.Width
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if !m.At(nx, ny) {
						continue
					}
					j := ny*m.Width + nx
					if !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
	}
	return n
}

func TestRefine_AllBackgroundFails(t *testing.T) {
	raw, err := NewRawMask(1, 100, 100, make([]float32, 100*100))
	require.NoError(t, err)

	aggregated := Aggregate(raw)
	require.Equal(t, 0, aggregated.Count())

	refined, err := Refine(aggregated)
	assert.ErrorIs(t, err, ErrNoForegroundRegion)
	assert.Nil(t, refined)
}

func TestRefine_RemovesNoisePoints(t *testing.T) {
	m := NewMask(40, 40)
	square := image.Rect(5, 5, 15, 15)
	fillRect(m, square)
	m.Set(30, 2, true)
	m.Set(35, 35, true)
	m.Set(2, 30, true)
	require.Equal(t, 103, m.Count())

	refined, err := Refine(m)
	require.NoError(t, err)

	assert.Equal(t, 100, refined.Count())
	assert.Equal(t, square, refined.Bounds())
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			want := image.Pt(x, y).In(square)
			assert.Equal(t, want, refined.At(x, y), "pixel (%d,%d)", x, y)
		}
	}
	assert.Equal(t, 103, m.Count(), "input must not be modified")
}

func TestRefine_KeepsLargestOfSeveralRegions(t *testing.T) {
	m := NewMask(60, 30)
	fillRect(m, image.Rect(2, 2, 8, 8))    // 36 px
	fillRect(m, image.Rect(20, 4, 40, 24)) // 400 px
	fillRect(m, image.Rect(45, 10, 55, 20))

	refined, err := Refine(m)
	require.NoError(t, err)

	assert.Equal(t, 1, components(refined))
	assert.Equal(t, image.Rect(20, 4, 40, 24), refined.Bounds())
	assert.LessOrEqual(t, refined.Count(), m.Count())
}

func TestRefine_SingleComponentNeverGrows(t *testing.T) {
	shapes := map[string]func(m *Mask){
		"rectangle": func(m *Mask) { fillRect(m, image.Rect(3, 4, 27, 19)) },
		"L shape": func(m *Mask) {
			fillRect(m, image.Rect(2, 2, 8, 25))
			fillRect(m, image.Rect(2, 19, 25, 25))
		},
		"plus with speckle": func(m *Mask) {
			fillRect(m, image.Rect(10, 2, 16, 28))
			fillRect(m, image.Rect(2, 12, 28, 18))
			m.Set(0, 0, true)
			m.Set(29, 29, true)
		},
	}

	for name, draw := range shapes {
		t.Run(name, func(t *testing.T) {
			m := NewMask(30, 30)
			draw(m)

			refined, err := Refine(m)
			require.NoError(t, err)

			assert.Equal(t, 1, components(refined))
			assert.LessOrEqual(t, refined.Count(), m.Count())
			for i, v := range refined.Pix {
				if v != Background {
					assert.NotEqual(t, Background, m.Pix[i], "refined pixel %d outside input foreground", i)
				}
			}
		})
	}
}

func TestRefine_FillsHoles(t *testing.T) {
	m := NewMask(30, 30)
	fillRect(m, image.Rect(4, 4, 26, 26))
	for y := 10; y < 20; y++ {
		for x := 10; x < 20; x++ {
			m.Set(x, y, false)
		}
	}
	require.False(t, m.At(15, 15))

	refined, err := Refine(m)
	require.NoError(t, err)

	assert.Equal(t, 1, components(refined))
	assert.Equal(t, image.Rect(4, 4, 26, 26), refined.Bounds())
	assert.True(t, refined.At(15, 15), "hole is part of the silhouette")
	assert.Equal(t, 22*22, refined.Count())
	assert.Greater(t, refined.Count(), m.Count())
}

func TestRefine_Deterministic(t *testing.T) {
	m := NewMask(32, 32)
	fillRect(m, image.Rect(4, 4, 20, 12))
	fillRect(m, image.Rect(22, 22, 30, 30))

	first, err := Refine(m)
	require.NoError(t, err)
	second, err := Refine(m)
	require.NoError(t, err)

	assert.Equal(t, first.Pix, second.Pix)
}

func TestRefine_TieGoesToFirstTraced(t *testing.T) {
	m := NewMask(40, 20)
	fillRect(m, image.Rect(2, 2, 10, 10))
	fillRect(m, image.Rect(20, 2, 28, 10))

	refined, err := Refine(m)
	require.NoError(t, err)

	// Equal areas: exactly one of the two survives, and the choice is stable.
	assert.Equal(t, 64, refined.Count())
	again, err := Refine(m)
	require.NoError(t, err)
	assert.Equal(t, refined.Bounds(), again.Bounds())
}

func TestLargestPolygon_Square(t *testing.T) {
	m := NewMask(20, 20)
	fillRect(m, image.Rect(5, 5, 15, 15))

	polygon, err := LargestPolygon(m)
	require.NoError(t, err)

	assert.True(t, polygon.Valid())
	assert.Equal(t, image.Rect(5, 5, 15, 15), polygon.Bounds())
	assert.InDelta(t, 81.0, polygon.Area(), 1e-9)
}

func TestRasterize(t *testing.T) {
	square := common.Polygon{{5, 5}, {14, 5}, {14, 14}, {5, 14}}

	m, err := Rasterize(square, 20, 20)
	require.NoError(t, err)
	assert.Equal(t, 100, m.Count())

	point, err := Rasterize(common.Polygon{{3, 4}}, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, point.Count())
	assert.True(t, point.At(3, 4))

	_, err = Rasterize(nil, 10, 10)
	assert.ErrorIs(t, err, ErrNoForegroundRegion)

	_, err = Rasterize(square, 0, 10)
	assert.Error(t, err)
}
