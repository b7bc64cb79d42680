// Package render draws a session frame onto an RGBA canvas: the rectified
// maze, each entity's path, the cars and their heading, and the notice banner.
package render

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"maze-relay-go/internal/geom"
	"maze-relay-go/internal/session"
)

const (
	// CarRadius and HeadingLength are in logical units.
	CarRadius     = 25
	HeadingLength = 25
	StrokeWidth   = 2
)

var palette = map[string]colorful.Color{
	"red":    {R: 1, G: 0, B: 0},
	"yellow": {R: 1, G: 1, B: 0},
	"purple": {R: 128.0 / 255, G: 0, B: 128.0 / 255},
	"blue":   {R: 0, G: 0, B: 1},
}

// neutral is used for keys outside the palette.
var neutral = colorful.Color{R: 0.6, G: 0.6, B: 0.6}

// Color returns the entity color for key. Keys outside the palette are drawn
// in a neutral gray.
func Color(key string) color.RGBA {
	c, ok := palette[key]
	if !ok {
		c = neutral
	}
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

type Renderer struct {
	width, height  int
	scaleX, scaleY float64
	background     color.RGBA
}

// New returns a renderer for a width x height canvas. The scale factors
// convert logical units to canvas pixels.
func New(width, height int, scaleX, scaleY float64) *Renderer {
	return &Renderer{
		width:      width,
		height:     height,
		scaleX:     scaleX,
		scaleY:     scaleY,
		background: color.RGBA{A: 255},
	}
}

func (r *Renderer) Render(f session.Frame) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(r.background), image.Point{}, draw.Src)

	if f.Calibration != nil && f.Calibration.RectifiedImage != nil {
		maze := f.Calibration.RectifiedImage
		draw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), maze, maze.Bounds(), draw.Src, nil)
	}

	for _, key := range sortedKeys(f.Paths) {
		c := Color(key)
		path := f.Paths[key]
		for i := 1; i < len(path); i++ {
			Line(canvas, path[i-1], path[i], StrokeWidth, c)
		}
	}

	unit := math.Min(r.scaleX, r.scaleY)
	black := color.RGBA{A: 255}
	for _, key := range f.Keys {
		pose, ok := f.Cars[key]
		if !ok {
			continue
		}
		center := geom.Point{X: pose.X, Y: pose.Y}
		Disc(canvas, center, CarRadius*unit, Color(key))
		if pose.HasOrientation {
			rad := pose.Orientation * math.Pi / 180
			end := geom.Point{
				X: pose.X + HeadingLength*unit*math.Cos(rad),
				Y: pose.Y + HeadingLength*unit*math.Sin(rad),
			}
			Line(canvas, center, end, StrokeWidth, black)
		}
	}

	if f.Notice != "" {
		Banner(canvas, f.Notice)
	}
	return canvas
}

// Line strokes a segment with a square pen of the given width.
func Line(img *image.RGBA, a, b geom.Point, width int, c color.RGBA) {
	x0, y0 := int(math.Round(a.X)), int(math.Round(a.Y))
	x1, y1 := int(math.Round(b.X)), int(math.Round(b.Y))
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	lo := -(width - 1) / 2
	hi := lo + width - 1
	err := dx + dy
	for {
		for oy := lo; oy <= hi; oy++ {
			for ox := lo; ox <= hi; ox++ {
				set(img, x0+ox, y0+oy, c)
			}
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// Disc fills a circle of radius r centered on p.
func Disc(img *image.RGBA, p geom.Point, r float64, c color.RGBA) {
	b := img.Bounds()
	minX := max(b.Min.X, int(math.Floor(p.X-r)))
	maxX := min(b.Max.X-1, int(math.Ceil(p.X+r)))
	minY := max(b.Min.Y, int(math.Floor(p.Y-r)))
	maxY := min(b.Max.Y-1, int(math.Ceil(p.Y+r)))
	r2 := r * r
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx, dy := float64(x)-p.X, float64(y)-p.Y
			if dx*dx+dy*dy <= r2 {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// Banner writes msg in a strip across the top of img.
func Banner(img *image.RGBA, msg string) {
	face := basicfont.Face7x13
	strip := image.Rect(0, 0, img.Bounds().Dx(), face.Height+8)
	draw.Draw(img, strip, image.NewUniform(color.RGBA{R: 180, A: 255}), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(6), Y: fixed.I(4 + face.Ascent)},
	}
	d.DrawString(msg)
}

// Markers draws a filled marker of radius r at every point.
func Markers(img *image.RGBA, pts []geom.Point, r float64, c color.RGBA) {
	for _, p := range pts {
		Disc(img, p, r, c)
	}
}

// FromGray copies a gray raster onto a new RGBA image.
func FromGray(src *image.Gray) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Draw(out, out.Bounds(), src, src.Bounds().Min, draw.Src)
	return out
}

func set(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sortedKeys(m map[string][]geom.Point) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
