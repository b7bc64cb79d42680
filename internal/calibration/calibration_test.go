package calibration

import (
	"image"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maze-relay-go/internal/geom"
	"maze-relay-go/internal/vision"
)

// scriptedPrims skips the raster filters and hands out prepared contours,
// one batch per FindExternalContours call.
type scriptedPrims struct {
	*vision.Native
	batches [][]vision.Contour
	calls   int
	panicOn string
}

func (s *scriptedPrims) GaussianBlur(src *image.Gray, _ int) *image.Gray {
	if s.panicOn == "blur" {
		panic("backend exploded")
	}
	return src
}

func (s *scriptedPrims) MorphologyEx(src *image.Gray, _ vision.MorphOp, _, _ int) *image.Gray {
	return src
}

func (s *scriptedPrims) Erode(src *image.Gray, _, _ int) *image.Gray { return src }

func (s *scriptedPrims) Canny(src *image.Gray, _, _ float64) *image.Gray { return src }

func (s *scriptedPrims) FindExternalContours(*image.Gray) []vision.Contour {
	defer func() { s.calls++ }()
	if s.calls < len(s.batches) {
		return s.batches[s.calls]
	}
	return nil
}

func (s *scriptedPrims) ApproxPolyDP(c vision.Contour, _ float64, _ bool) vision.Contour {
	return c
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newScripted(batches ...[]vision.Contour) *scriptedPrims {
	return &scriptedPrims{Native: vision.NewNative(), batches: batches}
}

var skewedQuad = vision.Contour{{20, 20}, {780, 15}, {790, 580}, {15, 590}}

func TestCalibrateSkewedQuadrilateral(t *testing.T) {
	prims := newScripted(
		[]vision.Contour{skewedQuad},
		[]vision.Contour{{{2, 3}, {797, 3}, {797, 596}, {2, 596}}},
	)
	params := DefaultParams()
	params.Margin = 5
	frame := image.NewGray(image.Rect(0, 0, 800, 600))

	cal := NewEngine(prims, params, quietLogger()).Calibrate(frame)

	require.True(t, cal.Rectified(), "reason: %s", cal.Reason)
	assert.Equal(t, 800, cal.RectifiedWidth)
	assert.Equal(t, 600, cal.RectifiedHeight)
	assert.Equal(t, image.Rect(0, 0, 800, 600), cal.RectifiedImage.Rect)
	assert.Equal(t, 2.0, cal.OffsetX)
	assert.Equal(t, 3.0, cal.OffsetY)
	assert.Equal(t, geom.Point{X: 20, Y: 20}, cal.Corners[0])
	assert.Equal(t, geom.Point{X: 15, Y: 590}, cal.Corners[3])

	x, y := cal.Homography.Apply(400, 300)
	assert.True(t, x >= 0 && x <= 800, "x=%v", x)
	assert.True(t, y >= 0 && y <= 600, "y=%v", y)
}

func TestCalibrateFallbacks(t *testing.T) {
	pentagon := vision.Contour{{100, 100}, {300, 90}, {350, 200}, {300, 300}, {100, 290}}
	collinear := vision.Contour{{100, 100}, {200, 100}, {300, 100}, {400, 100}}
	bigSquare := vision.Contour{{100, 100}, {500, 100}, {500, 400}, {100, 400}}

	tests := []struct {
		name   string
		prims  *scriptedPrims
		reason string
	}{
		{"no contours", newScripted(nil), ErrNoBoundary.Error()},
		{"border hugging only", newScripted([]vision.Contour{{{0, 0}, {639, 0}, {639, 479}, {0, 479}}}), ErrNoBoundary.Error()},
		{"five corners", newScripted([]vision.Contour{pentagon}), ErrNotQuadrilateral.Error()},
		{"degenerate quad", newScripted([]vision.Contour{collinear}), ErrNoBoundary.Error()},
		{"nothing after warp", newScripted([]vision.Contour{bigSquare}, nil), ErrNoRectifiedBoundary.Error()},
		{"backend panic", &scriptedPrims{Native: vision.NewNative(), panicOn: "blur"}, "panic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := image.NewGray(image.Rect(0, 0, 640, 480))
			cal := NewEngine(tt.prims, DefaultParams(), quietLogger()).Calibrate(frame)

			assert.False(t, cal.Rectified())
			assert.Nil(t, cal.Homography)
			assert.Zero(t, cal.OffsetX)
			assert.Zero(t, cal.OffsetY)
			assert.Same(t, frame, cal.RectifiedImage)
			assert.Contains(t, cal.Reason, tt.reason)
		})
	}
}

func TestCalibrateSingularCorners(t *testing.T) {
	// Two roles collapse onto one point, so the solve must refuse.
	dup := vision.Contour{{100, 100}, {100, 100}, {400, 300}, {100, 300}}
	prims := newScripted([]vision.Contour{dup})
	frame := image.NewGray(image.Rect(0, 0, 640, 480))

	cal := NewEngine(prims, DefaultParams(), quietLogger()).Calibrate(frame)
	assert.False(t, cal.Rectified())
	assert.Contains(t, cal.Reason, "perspective transform")
}

func TestSelectBoundaryHonoursMargin(t *testing.T) {
	n := vision.NewNative()
	hugging := vision.Contour{{5, 5}, {195, 5}, {195, 145}, {5, 145}}
	inner := vision.Contour{{30, 30}, {150, 30}, {150, 110}, {30, 110}}
	small := vision.Contour{{40, 40}, {60, 40}, {60, 60}, {40, 60}}

	got, ok := SelectBoundary(n, []vision.Contour{small, hugging, inner}, 200, 150, 20)
	require.True(t, ok)
	assert.Equal(t, inner, got)

	// Bounding box edge exactly on the margin is rejected.
	onMargin := vision.Contour{{20, 30}, {150, 30}, {150, 110}, {20, 110}}
	_, ok = SelectBoundary(n, []vision.Contour{onMargin}, 200, 150, 20)
	assert.False(t, ok)
}

func TestOrderCornersProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sum := func(p geom.Point) float64 { return p.X + p.Y }
	diff := func(p geom.Point) float64 { return p.Y - p.X }

	for i := 0; i < 500; i++ {
		w, h := 200+rng.Float64()*800, 200+rng.Float64()*600
		jitter := func() float64 { return (rng.Float64() - 0.5) * 60 }
		quad := [4]geom.Point{
			{X: jitter(), Y: jitter()},
			{X: w + jitter(), Y: jitter()},
			{X: w + jitter(), Y: h + jitter()},
			{X: jitter(), Y: h + jitter()},
		}
		rng.Shuffle(4, func(a, b int) { quad[a], quad[b] = quad[b], quad[a] })

		got := OrderCorners(quad)
		for _, p := range quad {
			require.LessOrEqual(t, sum(got[0]), sum(p))
			require.GreaterOrEqual(t, sum(got[2]), sum(p))
			require.LessOrEqual(t, diff(got[1]), diff(p))
			require.GreaterOrEqual(t, diff(got[3]), diff(p))
		}
	}
}

func TestOrderCornersAxisAligned(t *testing.T) {
	got := OrderCorners([4]geom.Point{{X: 10, Y: 90}, {X: 90, Y: 90}, {X: 90, Y: 10}, {X: 10, Y: 10}})
	want := [4]geom.Point{{X: 10, Y: 10}, {X: 90, Y: 10}, {X: 90, Y: 90}, {X: 10, Y: 90}}
	assert.Equal(t, want, got)
}

func assertCornersNear(t *testing.T, want, got [4]geom.Point, tol float64) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i].X, got[i].X, tol, "corner %d x", i)
		assert.InDelta(t, want[i].Y, got[i].Y, tol, "corner %d y", i)
	}
}

func TestNativePipelineOnSyntheticMaze(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 240, 180))
	drawn := [4]geom.Point{{X: 50, Y: 45}, {X: 195, Y: 40}, {X: 200, Y: 140}, {X: 45, Y: 135}}
	vision.FillPolygon(frame, drawn[:], 255)

	cal := NewEngine(vision.NewNative(), DefaultParams(), quietLogger()).Calibrate(frame)

	require.True(t, cal.Rectified(), cal.Reason)
	assert.Empty(t, cal.Reason)
	require.NotNil(t, cal.RectifiedImage)
	assert.Equal(t, frame.Rect, cal.RectifiedImage.Rect)
	assertCornersNear(t, drawn, cal.Corners, 8)

	x, y := cal.Homography.Apply(122, 90)
	assert.InDelta(t, 120, x, 20, "quad center maps near the raster center")
	assert.InDelta(t, 90, y, 20)
}

func TestNativePipelineOnInsetQuad(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 800, 600))
	drawn := [4]geom.Point{{X: 60, Y: 60}, {X: 740, Y: 50}, {X: 750, Y: 540}, {X: 50, Y: 550}}
	vision.FillPolygon(frame, drawn[:], 255)

	cal := NewEngine(vision.NewNative(), DefaultParams(), quietLogger()).Calibrate(frame)

	require.True(t, cal.Rectified(), cal.Reason)
	assertCornersNear(t, drawn, cal.Corners, 8)
	for _, c := range cal.Corners {
		x, y := cal.Homography.Apply(c.X, c.Y)
		assert.True(t, x >= -1 && x <= 801 && y >= -1 && y <= 601, "corner %v mapped to %v,%v", c, x, y)
	}
	x, y := cal.Homography.Apply(400, 300)
	assert.True(t, x > 0 && x < 800 && y > 0 && y < 600, "center mapped to %v,%v", x, y)
}

func TestNativePipelineBlankFrameFallsBack(t *testing.T) {
	frame := image.NewGray(image.Rect(0, 0, 120, 90))
	cal := NewEngine(vision.NewNative(), DefaultParams(), quietLogger()).Calibrate(frame)
	assert.False(t, cal.Rectified())
	assert.Contains(t, cal.Reason, ErrNoBoundary.Error())
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.CloseKernel = 4
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.Epsilon = 0
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.CannyHigh = 10
	assert.Error(t, p.Validate())
}
