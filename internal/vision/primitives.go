package vision

import (
	"image"
	"image/color"
	"image/draw"

	"maze-relay-go/internal/geom"
)

// Contour is an ordered boundary polygon in raster coordinates.
type Contour []image.Point

// MorphOp selects a compound morphological operation.
type MorphOp int

const (
	MorphClose MorphOp = iota
	MorphOpen
)

// Primitives is the capability the calibration engine depends on.
type Primitives interface {
	GaussianBlur(src *image.Gray, ksize int) *image.Gray
	MorphologyEx(src *image.Gray, op MorphOp, ksize, iterations int) *image.Gray
	Erode(src *image.Gray, ksize, iterations int) *image.Gray
	Canny(src *image.Gray, low, high float64) *image.Gray
	// FindExternalContours returns only outermost boundaries; contours nested
	// inside another foreground region are not reported.
	FindExternalContours(src *image.Gray) []Contour
	ContourArea(c Contour) float64
	BoundingRect(c Contour) image.Rectangle
	ArcLength(c Contour, closed bool) float64
	ApproxPolyDP(c Contour, epsilon float64, closed bool) Contour
	GetPerspectiveTransform(src, dst [4]geom.Point) (geom.Homography, error)
	WarpPerspective(src *image.Gray, h geom.Homography, width, height int) (*image.Gray, error)
}

// KernelSigma is the Gaussian sigma OpenCV derives from a kernel size.
func KernelSigma(ksize int) float64 {
	return 0.3*(float64(ksize-1)*0.5-1) + 0.8
}

// ToGray converts img into an origin-anchored *image.Gray, copying only when needed.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) && g.Stride == g.Rect.Dx() {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	switch src := img.(type) {
	case *image.RGBA:
		for y := 0; y < b.Dy(); y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < b.Dx(); x++ {
				out.Pix[y*out.Stride+x] = row[x*4]
			}
		}
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < b.Dx(); x++ {
				out.Pix[y*out.Stride+x] = row[x*4]
			}
		}
	default:
		draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	}
	return out
}

// Clone returns an origin-anchored copy of img.
func Clone(img *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(out.Pix[y*out.Stride:(y+1)*out.Stride], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	return out
}

// FillPolygon paints a filled polygon of value v, used by tests and the simulator.
func FillPolygon(img *image.Gray, poly []geom.Point, v uint8) {
	if len(poly) < 3 {
		return
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		cy := float64(y) + 0.5
		for x := b.Min.X; x < b.Max.X; x++ {
			if pointInPolygon(float64(x)+0.5, cy, poly) {
				img.SetGray(x, y, color.Gray{Y: v})
			}
		}
	}
}

func pointInPolygon(x, y float64, poly []geom.Point) bool {
	inside := false
	j := len(poly) - 1
	for i := range poly {
		pi, pj := poly[i], poly[j]
		if (pi.Y > y) != (pj.Y > y) && x < (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
		j = i
	}
	return inside
}
