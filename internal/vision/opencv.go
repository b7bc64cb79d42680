//go:build gocv

package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"maze-relay-go/internal/geom"
)

// OpenCV is the gocv-backed Primitives implementation. Every Mat it creates
// is closed before the method returns.
type OpenCV struct{}

// NewOpenCV returns the OpenCV backend.
func NewOpenCV() *OpenCV { return &OpenCV{} }

var _ Primitives = (*OpenCV)(nil)

// Available reports whether the binary was built with the gocv tag.
const Available = true

// Default returns the preferred backend for this build.
func Default() Primitives { return NewOpenCV() }

func grayToMat(img *image.Gray) (gocv.Mat, error) {
	g := ToGray(img)
	return gocv.NewMatFromBytes(g.Rect.Dy(), g.Rect.Dx(), gocv.MatTypeCV8UC1, g.Pix)
}

func matToGray(m gocv.Mat) *image.Gray {
	img, err := m.ToImage()
	if err != nil {
		return image.NewGray(image.Rect(0, 0, m.Cols(), m.Rows()))
	}
	return ToGray(img)
}

func (OpenCV) GaussianBlur(src *image.Gray, ksize int) *image.Gray {
	in, err := grayToMat(src)
	if err != nil {
		return Clone(src)
	}
	defer in.Close()
	out := gocv.NewMat()
	defer out.Close()
	gocv.GaussianBlur(in, &out, image.Pt(ksize, ksize), 0, 0, gocv.BorderDefault)
	return matToGray(out)
}

func (OpenCV) MorphologyEx(src *image.Gray, op MorphOp, ksize, iterations int) *image.Gray {
	in, err := grayToMat(src)
	if err != nil {
		return Clone(src)
	}
	defer in.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(ksize, ksize))
	defer kernel.Close()
	out := gocv.NewMat()
	defer out.Close()
	mt := gocv.MorphClose
	if op == MorphOpen {
		mt = gocv.MorphOpen
	}
	gocv.MorphologyExWithParams(in, &out, mt, kernel, iterations, gocv.BorderConstant)
	return matToGray(out)
}

func (OpenCV) Erode(src *image.Gray, ksize, iterations int) *image.Gray {
	in, err := grayToMat(src)
	if err != nil {
		return Clone(src)
	}
	defer in.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(ksize, ksize))
	defer kernel.Close()
	out := gocv.NewMat()
	defer out.Close()
	gocv.ErodeWithParams(in, &out, kernel, image.Pt(-1, -1), iterations, int(gocv.BorderConstant))
	return matToGray(out)
}

func (OpenCV) Canny(src *image.Gray, low, high float64) *image.Gray {
	in, err := grayToMat(src)
	if err != nil {
		return image.NewGray(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	}
	defer in.Close()
	out := gocv.NewMat()
	defer out.Close()
	gocv.Canny(in, &out, float32(low), float32(high))
	return matToGray(out)
}

func (OpenCV) FindExternalContours(src *image.Gray) []Contour {
	in, err := grayToMat(src)
	if err != nil {
		return nil
	}
	defer in.Close()
	pv := gocv.FindContours(in, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer pv.Close()
	var out []Contour
	for _, pts := range pv.ToPoints() {
		out = append(out, Contour(pts))
	}
	return out
}

func (OpenCV) ContourArea(c Contour) float64 {
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()
	return gocv.ContourArea(pv)
}

func (OpenCV) BoundingRect(c Contour) image.Rectangle {
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()
	return gocv.BoundingRect(pv)
}

func (OpenCV) ArcLength(c Contour, closed bool) float64 {
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()
	return gocv.ArcLength(pv, closed)
}

func (OpenCV) ApproxPolyDP(c Contour, epsilon float64, closed bool) Contour {
	pv := gocv.NewPointVectorFromPoints(c)
	defer pv.Close()
	approx := gocv.ApproxPolyDP(pv, epsilon, closed)
	defer approx.Close()
	return Contour(approx.ToPoints())
}

func (OpenCV) GetPerspectiveTransform(src, dst [4]geom.Point) (geom.Homography, error) {
	sv := gocv.NewPoint2fVectorFromPoints(toPoint2f(src))
	defer sv.Close()
	dv := gocv.NewPoint2fVectorFromPoints(toPoint2f(dst))
	defer dv.Close()
	m := gocv.GetPerspectiveTransform2f(sv, dv)
	defer m.Close()
	if m.Empty() {
		return geom.Homography{}, geom.ErrSingular
	}
	var h geom.Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			h[r*3+c] = m.GetDoubleAt(r, c)
		}
	}
	return h, nil
}

func (OpenCV) WarpPerspective(src *image.Gray, h geom.Homography, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("warp: invalid size %dx%d", width, height)
	}
	in, err := grayToMat(src)
	if err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}
	defer in.Close()
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, h[r*3+c])
		}
	}
	out := gocv.NewMat()
	defer out.Close()
	gocv.WarpPerspective(in, &out, m, image.Pt(width, height))
	return matToGray(out), nil
}

func toPoint2f(pts [4]geom.Point) []gocv.Point2f {
	out := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}
