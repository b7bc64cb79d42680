package render

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maze-relay-go/internal/calibration"
	"maze-relay-go/internal/geom"
	"maze-relay-go/internal/motion"
	"maze-relay-go/internal/session"
)

func TestPalette(t *testing.T) {
	assert.Equal(t, color.RGBA{R: 255, A: 255}, Color("red"))
	assert.Equal(t, color.RGBA{R: 255, G: 255, A: 255}, Color("yellow"))
	assert.Equal(t, color.RGBA{R: 128, B: 128, A: 255}, Color("purple"))
	assert.Equal(t, color.RGBA{B: 255, A: 255}, Color("blue"))

	gray := color.RGBA{R: 153, G: 153, B: 153, A: 255}
	assert.Equal(t, gray, Color("green"))
	assert.Equal(t, gray, Color("car-7"), "every unknown key shares the neutral color")
}

func TestRenderEmptyFrameIsBackground(t *testing.T) {
	img := New(64, 36, 0.05, 0.05).Render(session.Frame{})
	require.Equal(t, image.Rect(0, 0, 64, 36), img.Bounds())
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(10, 10))
}

func TestRenderScalesMazeToCanvas(t *testing.T) {
	maze := image.NewGray(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 10; x < 20; x++ {
			maze.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	f := session.Frame{Calibration: calibration.Fallback(maze, "test")}

	img := New(40, 20, 2, 2).Render(f)
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(5, 10))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, img.RGBAAt(35, 10))
}

func TestRenderCarsPathsAndHeading(t *testing.T) {
	f := session.Frame{
		Cars: map[string]motion.Pose{
			"red":  {X: 100, Y: 100, Orientation: 0, HasOrientation: true},
			"blue": {X: 200, Y: 50},
		},
		Keys: []string{"blue", "red"},
		Paths: map[string][]geom.Point{
			"yellow": {{X: 10, Y: 150}, {X: 90, Y: 150}},
		},
	}
	img := New(256, 192, 1, 1).Render(f)

	assert.Equal(t, Color("red"), img.RGBAAt(100, 110), "inside the red disc")
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(120, 100), "heading line is black")
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(125, 100), "heading line end")
	assert.Equal(t, Color("blue"), img.RGBAAt(200, 50))
	assert.Equal(t, Color("blue"), img.RGBAAt(224, 50))
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(227, 50), "outside the radius")
	assert.Equal(t, Color("yellow"), img.RGBAAt(50, 150))
	assert.Equal(t, Color("yellow"), img.RGBAAt(50, 151), "stroke is two pixels wide")
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(50, 153))
}

func TestRenderRadiusFollowsScale(t *testing.T) {
	f := session.Frame{
		Cars: map[string]motion.Pose{"red": {X: 50, Y: 50}},
		Keys: []string{"red"},
	}
	img := New(100, 100, 0.5, 0.5).Render(f)
	assert.Equal(t, Color("red"), img.RGBAAt(62, 50))
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(64, 50))
}

func TestBannerPaintsStrip(t *testing.T) {
	img := New(200, 60, 1, 1).Render(session.Frame{Notice: "Error processing maze image: boom"})
	assert.Equal(t, color.RGBA{R: 180, A: 255}, img.RGBAAt(199, 2))
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(100, 40))

	white := 0
	for y := 0; y < 21; y++ {
		for x := 0; x < 200; x++ {
			if img.RGBAAt(x, y) == (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
				white++
			}
		}
	}
	assert.Positive(t, white, "text pixels drawn")
}

func TestLineClipsAndMarkers(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	c := color.RGBA{G: 255, A: 255}
	Line(img, geom.Point{X: -5, Y: -5}, geom.Point{X: 15, Y: 15}, 1, c)
	assert.Equal(t, c, img.RGBAAt(4, 4))
	assert.Equal(t, c, img.RGBAAt(9, 9))

	Markers(img, []geom.Point{{X: 0, Y: 9}}, 1, color.RGBA{R: 9, A: 255})
	assert.Equal(t, color.RGBA{R: 9, A: 255}, img.RGBAAt(0, 9))
	assert.Equal(t, color.RGBA{R: 9, A: 255}, img.RGBAAt(1, 9))

	gray := image.NewGray(image.Rect(0, 0, 2, 1))
	gray.Pix[1] = 200
	rgba := FromGray(gray)
	assert.Equal(t, color.RGBA{R: 200, G: 200, B: 200, A: 255}, rgba.RGBAAt(1, 0))
}
