package common

import "image"

// Polygon is an ordered, implicitly closed sequence of integer vertices
// describing the outer boundary of one connected region.
type Polygon []image.Point

// Valid reports whether the polygon has enough vertices to enclose an area.
func (p Polygon) Valid() bool {
	return len(p) >= 3
}

// Area returns the absolute enclosed area using the shoelace formula.
func (p Polygon) Area() float64 {
	n := len(p)
	if n < 3 {
		return 0
	}
	var sum int
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	if sum < 0 {
		sum = -sum
	}
	return float64(sum) / 2
}

// Bounds returns the smallest half-open rectangle containing every vertex.
func (p Polygon) Bounds() image.Rectangle {
	if len(p) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: p[0], Max: p[0].Add(image.Pt(1, 1))}
	for _, pt := range p[1:] {
		r = r.Union(image.Rectangle{Min: pt, Max: pt.Add(image.Pt(1, 1))})
	}
	return r
}
