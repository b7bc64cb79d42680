package vision

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"maze-relay-go/internal/geom"
)

// Native is the pure-Go Primitives backend.
type Native struct{}

// NewNative returns the pure-Go backend.
func NewNative() *Native { return &Native{} }

var _ Primitives = (*Native)(nil)

func (Native) GaussianBlur(src *image.Gray, ksize int) *image.Gray {
	if ksize <= 1 {
		return Clone(src)
	}
	return ToGray(imaging.Blur(src, KernelSigma(ksize)))
}

// MorphologyEx and Erode use a rectangular ksize x ksize element.
func (Native) MorphologyEx(src *image.Gray, op MorphOp, ksize, iterations int) *image.Gray {
	switch op {
	case MorphClose:
		return erodeRect(dilateRect(ToGray(src), ksize, iterations), ksize, iterations)
	case MorphOpen:
		return dilateRect(erodeRect(ToGray(src), ksize, iterations), ksize, iterations)
	}
	return Clone(src)
}

func (Native) Erode(src *image.Gray, ksize, iterations int) *image.Gray {
	return erodeRect(ToGray(src), ksize, iterations)
}

func (Native) Canny(src *image.Gray, low, high float64) *image.Gray {
	return canny(ToGray(src), low, high)
}

func (Native) FindExternalContours(src *image.Gray) []Contour {
	return externalContours(ToGray(src))
}

func (Native) ContourArea(c Contour) float64 {
	if len(c) < 3 {
		return 0
	}
	return math.Abs(planar.Area(toRing(c)))
}

func (Native) BoundingRect(c Contour) image.Rectangle {
	if len(c) == 0 {
		return image.Rectangle{}
	}
	b := toRing(c).Bound()
	return image.Rect(int(b.Min[0]), int(b.Min[1]), int(b.Max[0])+1, int(b.Max[1])+1)
}

func (Native) ArcLength(c Contour, closed bool) float64 {
	if len(c) < 2 {
		return 0
	}
	if closed {
		return planar.Length(toRing(c))
	}
	return planar.Length(toLineString(c))
}

func (Native) ApproxPolyDP(c Contour, epsilon float64, closed bool) Contour {
	if len(c) < 3 {
		return append(Contour(nil), c...)
	}
	if !closed {
		return fromLineString(douglasPeucker(toLineString(c), epsilon))
	}

	// Split the ring at two mutually distant points so each half is an open chain.
	a := farthestFrom(c, c[0])
	b := farthestFrom(c, c[a])
	if a > b {
		a, b = b, a
	}
	if a == b {
		return Contour{c[a]}
	}
	first := toLineString(c[a : b+1])
	second := toLineString(append(append(Contour(nil), c[b:]...), c[:a+1]...))

	s1 := douglasPeucker(first, epsilon)
	s2 := douglasPeucker(second, epsilon)
	out := make(Contour, 0, len(s1)+len(s2))
	out = append(out, fromLineString(s1[:len(s1)-1])...)
	out = append(out, fromLineString(s2[:len(s2)-1])...)
	return out
}

func (Native) GetPerspectiveTransform(src, dst [4]geom.Point) (geom.Homography, error) {
	return geom.Solve(src, dst)
}

func (Native) WarpPerspective(src *image.Gray, h geom.Homography, width, height int) (*image.Gray, error) {
	return warpPerspective(ToGray(src), h, width, height)
}

func douglasPeucker(ls orb.LineString, epsilon float64) orb.LineString {
	if len(ls) < 3 {
		return ls
	}
	out, ok := simplify.DouglasPeucker(epsilon).Simplify(ls.Clone()).(orb.LineString)
	if !ok || len(out) < 2 {
		return orb.LineString{ls[0], ls[len(ls)-1]}
	}
	return out
}

func farthestFrom(c Contour, p image.Point) int {
	best, bestD := 0, -1
	for i, q := range c {
		dx, dy := q.X-p.X, q.Y-p.Y
		if d := dx*dx + dy*dy; d > bestD {
			best, bestD = i, d
		}
	}
	return best
}

func toLineString(c Contour) orb.LineString {
	ls := make(orb.LineString, len(c))
	for i, p := range c {
		ls[i] = orb.Point{float64(p.X), float64(p.Y)}
	}
	return ls
}

func toRing(c Contour) orb.Ring {
	r := make(orb.Ring, 0, len(c)+1)
	for _, p := range c {
		r = append(r, orb.Point{float64(p.X), float64(p.Y)})
	}
	if !r[0].Equal(r[len(r)-1]) {
		r = append(r, r[0])
	}
	return r
}

func fromLineString(ls orb.LineString) Contour {
	c := make(Contour, len(ls))
	for i, p := range ls {
		c[i] = image.Pt(int(math.Round(p[0])), int(math.Round(p[1])))
	}
	return c
}
