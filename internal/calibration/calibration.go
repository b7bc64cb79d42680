// Package calibration turns a decoded maze raster into a perspective
// calibration: the homography from the camera view onto the canonical
// rectangle, the offset of the rectified maze, and the rectified raster.
//
// Failure to find a usable boundary is an expected outcome. Calibrate never
// returns an error; it returns a fallback Calibration instead.
package calibration

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"maze-relay-go/internal/geom"
	"maze-relay-go/internal/vision"
)

var (
	ErrNoBoundary          = errors.New("no boundary contour inside margin")
	ErrNotQuadrilateral    = errors.New("boundary is not a quadrilateral")
	ErrNoRectifiedBoundary = errors.New("no contour in rectified raster")
)

// Calibration is immutable once built. A nil Homography means the fallback:
// points are only scaled, and RectifiedImage is the original raster.
type Calibration struct {
	Homography      *geom.Homography
	OffsetX         float64
	OffsetY         float64
	RectifiedWidth  int
	RectifiedHeight int
	RectifiedImage  *image.Gray
	// Corners are the ordered source corners (TL, TR, BR, BL); zero in the fallback.
	Corners [4]geom.Point
	// Reason describes why the fallback was used.
	Reason   string
	Duration time.Duration
}

// Rectified reports whether a homography is present.
func (c *Calibration) Rectified() bool {
	return c != nil && c.Homography != nil
}

// Fallback builds the calibration used whenever rectification fails.
func Fallback(frame *image.Gray, reason string) *Calibration {
	c := &Calibration{RectifiedImage: frame, Reason: reason}
	if frame != nil {
		c.RectifiedWidth = frame.Rect.Dx()
		c.RectifiedHeight = frame.Rect.Dy()
	}
	return c
}

type Engine struct {
	prims  vision.Primitives
	params Params
	logger *slog.Logger
}

func NewEngine(prims vision.Primitives, params Params, logger *slog.Logger) *Engine {
	if prims == nil {
		prims = vision.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{prims: prims, params: params, logger: logger}
}

func (e *Engine) Params() Params { return e.params }

// Calibrate runs the full pipeline on frame. It always returns a usable
// Calibration.
func (e *Engine) Calibrate(frame *image.Gray) (cal *Calibration) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("calibration panicked", "panic", r)
			cal = Fallback(frame, fmt.Sprintf("panic: %v", r))
		}
		cal.Duration = time.Since(start)
	}()

	if frame == nil || frame.Rect.Empty() {
		return Fallback(frame, "empty frame")
	}
	frame = vision.ToGray(frame)
	c, err := e.rectify(frame)
	if err != nil {
		e.logger.Warn("calibration fell back to unrectified maze",
			"width", frame.Rect.Dx(), "height", frame.Rect.Dy(), "error", err)
		return Fallback(frame, err.Error())
	}
	e.logger.Info("calibration computed",
		"offset_x", c.OffsetX, "offset_y", c.OffsetY,
		"corners", c.Corners)
	return c
}

func (e *Engine) rectify(frame *image.Gray) (*Calibration, error) {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()

	quad, err := e.DetectCorners(frame)
	if err != nil {
		return nil, err
	}
	if len(quad) != 4 {
		return nil, fmt.Errorf("%w: %d vertices", ErrNotQuadrilateral, len(quad))
	}
	corners := OrderCorners([4]geom.Point{quad[0], quad[1], quad[2], quad[3]})
	target := [4]geom.Point{
		{X: 0, Y: 0},
		{X: float64(w), Y: 0},
		{X: float64(w), Y: float64(h)},
		{X: 0, Y: float64(h)},
	}
	hom, err := e.prims.GetPerspectiveTransform(corners, target)
	if err != nil {
		return nil, fmt.Errorf("perspective transform: %w", err)
	}
	warped, err := e.prims.WarpPerspective(frame, hom, w, h)
	if err != nil {
		return nil, err
	}

	var best vision.Contour
	bestArea := 0.0
	for _, c := range e.prims.FindExternalContours(warped) {
		if a := e.prims.ContourArea(c); a > bestArea {
			best, bestArea = c, a
		}
	}
	if best == nil {
		return nil, ErrNoRectifiedBoundary
	}
	box := e.prims.BoundingRect(best)

	return &Calibration{
		Homography:      &hom,
		OffsetX:         float64(box.Min.X),
		OffsetY:         float64(box.Min.Y),
		RectifiedWidth:  w,
		RectifiedHeight: h,
		RectifiedImage:  warped,
		Corners:         corners,
	}, nil
}

// DetectCorners returns the approximated polygon of the boundary contour.
// The result has exactly four vertices when the maze is usable; callers that
// only report on detection get whatever count the approximation produced.
func (e *Engine) DetectCorners(frame *image.Gray) ([]geom.Point, error) {
	p := e.params
	img := e.prims.GaussianBlur(frame, p.BlurKernel)
	img = e.prims.MorphologyEx(img, vision.MorphClose, p.CloseKernel, p.CloseIterations)
	img = e.prims.MorphologyEx(img, vision.MorphOpen, p.OpenKernel, p.OpenIterations)
	img = e.prims.Erode(img, p.ErodeKernel, p.ErodeIterations)
	edges := e.prims.Canny(img, p.CannyLow, p.CannyHigh)

	contours := e.prims.FindExternalContours(edges)
	boundary, ok := SelectBoundary(e.prims, contours, frame.Rect.Dx(), frame.Rect.Dy(), p.Margin)
	if !ok {
		return nil, fmt.Errorf("%w (%d contours)", ErrNoBoundary, len(contours))
	}
	approx := e.prims.ApproxPolyDP(boundary, p.Epsilon*e.prims.ArcLength(boundary, true), true)
	out := make([]geom.Point, len(approx))
	for i, pt := range approx {
		out[i] = geom.Point{X: float64(pt.X), Y: float64(pt.Y)}
	}
	return out, nil
}

// SelectBoundary picks the largest contour whose bounding box lies strictly
// inside margin on every side of a width x height raster.
func SelectBoundary(prims vision.Primitives, contours []vision.Contour, width, height, margin int) (vision.Contour, bool) {
	var best vision.Contour
	maxArea := 0.0
	for _, c := range contours {
		area := prims.ContourArea(c)
		if area <= maxArea {
			continue
		}
		r := prims.BoundingRect(c)
		if r.Min.X > margin && r.Min.Y > margin && r.Max.X < width-margin && r.Max.Y < height-margin {
			best, maxArea = c, area
		}
	}
	return best, best != nil
}

// OrderCorners returns the points as top-left, top-right, bottom-right,
// bottom-left using the x+y and y-x extremes. The heuristic assumes the
// quadrilateral is roughly axis aligned; near 45 degrees two roles can land on
// the same point, and the homography solve then rejects the result.
func OrderCorners(pts [4]geom.Point) [4]geom.Point {
	tl, br, tr, bl := 0, 0, 0, 0
	for i, p := range pts {
		if p.X+p.Y < pts[tl].X+pts[tl].Y {
			tl = i
		}
		if p.X+p.Y > pts[br].X+pts[br].Y {
			br = i
		}
		if p.Y-p.X < pts[tr].Y-pts[tr].X {
			tr = i
		}
		if p.Y-p.X > pts[bl].Y-pts[bl].X {
			bl = i
		}
	}
	return [4]geom.Point{pts[tl], pts[tr], pts[br], pts[bl]}
}
