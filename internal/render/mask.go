package render

import (
	"image"
	"image/color"
)

// roundedMask is an alpha mask of a rounded rectangle in canvas coordinates,
// optionally with a rounded hole (used to draw borders).
type roundedMask struct {
	rect   image.Rectangle
	radius int

	hole       image.Rectangle
	holeRadius int
}

func newRoundedMask(r image.Rectangle, radius int) *roundedMask {
	return &roundedMask{rect: r, radius: clampRadius(r, radius)}
}

func newBorderMask(r image.Rectangle, radius, width int) *roundedMask {
	hole := r.Inset(width)
	return &roundedMask{
		rect:       r,
		radius:     clampRadius(r, radius),
		hole:       hole,
		holeRadius: clampRadius(hole, radius-width),
	}
}

func clampRadius(r image.Rectangle, radius int) int {
	limit := min(r.Dx(), r.Dy()) / 2
	return max(min(radius, limit), 0)
}

func (m *roundedMask) ColorModel() color.Model { return color.AlphaModel }

func (m *roundedMask) Bounds() image.Rectangle { return m.rect }

func (m *roundedMask) At(x, y int) color.Color {
	if !inside(x, y, m.rect, m.radius) {
		return color.Alpha{}
	}
	if !m.hole.Empty() && inside(x, y, m.hole, m.holeRadius) {
		return color.Alpha{}
	}
	return color.Alpha{A: 0xff}
}

// inside reports whether the center of pixel (x, y) is inside r with
// corners rounded by radius.
func inside(x, y int, r image.Rectangle, radius int) bool {
	if !(image.Point{X: x, Y: y}).In(r) {
		return false
	}
	if radius <= 0 {
		return true
	}

	px, py := float64(x)+0.5, float64(y)+0.5
	rad := float64(radius)
	cx := clampF(px, float64(r.Min.X)+rad, float64(r.Max.X)-rad)
	cy := clampF(py, float64(r.Min.Y)+rad, float64(r.Max.Y)-rad)
	dx, dy := px-cx, py-cy
	return dx*dx+dy*dy <= rad*rad
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
