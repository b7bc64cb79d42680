// Package geom holds the projective transform shared by calibration and mapping.
package geom

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var ErrSingular = errors.New("geom: degenerate point correspondence")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Homography is a row-major 3x3 projective transform normalized so H[8] == 1.
type Homography [9]float64

func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps a point through h. A point sent to infinity maps to the origin.
func (h Homography) Apply(x, y float64) (float64, float64) {
	w := h[6]*x + h[7]*y + h[8]
	if w == 0 {
		return 0, 0
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w
}

// ApplyVector maps a direction through the linear part of h.
func (h Homography) ApplyVector(dx, dy float64) (float64, float64) {
	return h[0]*dx + h[1]*dy, h[3]*dx + h[4]*dy
}

// Inverse returns the transform mapping destination points back to the source.
func (h Homography) Inverse() (Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(3, 3, h[:])); err != nil {
		if !acceptable(err) {
			return Homography{}, fmt.Errorf("%w: %v", ErrSingular, err)
		}
	}
	var out Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*3+c] = inv.At(r, c)
		}
	}
	return out.normalize()
}

// Solve computes the homography taking each src[i] to dst[i] by solving the
// 8x8 direct linear system with H[8] fixed at 1.
func Solve(src, dst [4]Point) (Homography, error) {
	if degenerate(src) || degenerate(dst) {
		return Homography{}, fmt.Errorf("%w: three of four points are collinear", ErrSingular)
	}
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		if !acceptable(err) {
			return Homography{}, fmt.Errorf("%w: %v", ErrSingular, err)
		}
	}

	var h Homography
	for i := 0; i < 8; i++ {
		h[i] = sol.AtVec(i)
	}
	h[8] = 1
	return h.normalize()
}

// degenerate reports whether any three of the points are collinear, which
// leaves the direct linear system without a unique solution.
func degenerate(pts [4]Point) bool {
	var extent float64
	for _, p := range pts {
		extent = math.Max(extent, math.Max(math.Abs(p.X-pts[0].X), math.Abs(p.Y-pts[0].Y)))
	}
	if extent == 0 {
		return true
	}
	tol := 1e-9 * extent * extent
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			for k := j + 1; k < 4; k++ {
				cross := (pts[j].X-pts[i].X)*(pts[k].Y-pts[i].Y) - (pts[j].Y-pts[i].Y)*(pts[k].X-pts[i].X)
				if math.Abs(cross) <= tol {
					return true
				}
			}
		}
	}
	return false
}

// acceptable reports whether a gonum error is only a finite conditioning warning.
func acceptable(err error) bool {
	var cond mat.Condition
	if !errors.As(err, &cond) {
		return false
	}
	return !math.IsInf(float64(cond), 0) && !math.IsNaN(float64(cond))
}

func (h Homography) normalize() (Homography, error) {
	if h[8] == 0 || math.IsNaN(h[8]) {
		return Homography{}, ErrSingular
	}
	s := h[8]
	for i := range h {
		h[i] /= s
		if math.IsNaN(h[i]) || math.IsInf(h[i], 0) {
			return Homography{}, ErrSingular
		}
	}
	return h, nil
}
