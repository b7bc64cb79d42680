// Package simulator produces a synthetic producer stream: a skewed maze
// frame and a handful of cars driving closed loops inside it.
package simulator

import (
	"context"
	"encoding/json"
	"image"
	"math"
	"time"

	"maze-relay-go/internal/geom"
	"maze-relay-go/internal/rle"
	"maze-relay-go/internal/types"
	"maze-relay-go/internal/vision"
)

var Colors = []string{"red", "yellow", "purple", "blue"}

type Options struct {
	Width  int
	Height int
	// MazeEvery resends the maze frame every N ticks. Zero sends it once.
	MazeEvery int
	// PathLength is the number of upcoming points sent as each car's path.
	PathLength int
}

func DefaultOptions() Options {
	return Options{Width: 1280, Height: 720, MazeEvery: 100, PathLength: 12}
}

type Simulator struct {
	opts    Options
	corners [4]geom.Point
	maze    []byte
}

func New(opts Options) (*Simulator, error) {
	d := DefaultOptions()
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = d.Width, d.Height
	}
	if opts.PathLength <= 0 {
		opts.PathLength = d.PathLength
	}

	w, h := float64(opts.Width), float64(opts.Height)
	s := &Simulator{
		opts: opts,
		corners: [4]geom.Point{
			{X: 0.12 * w, Y: 0.16 * h},
			{X: 0.90 * w, Y: 0.13 * h},
			{X: 0.93 * w, Y: 0.87 * h},
			{X: 0.07 * w, Y: 0.84 * h},
		},
	}

	maze, err := json.Marshal(types.MazeData{
		Type:    types.TypeMazeData,
		Width:   opts.Width,
		Height:  opts.Height,
		RLEData: rle.Encode(s.Raster()),
	})
	if err != nil {
		return nil, err
	}
	s.maze = maze
	return s, nil
}

// Corners returns the maze boundary as top-left, top-right, bottom-right,
// bottom-left in raster coordinates.
func (s *Simulator) Corners() [4]geom.Point { return s.corners }

// Raster draws the maze: a filled quadrilateral with interior walls.
func (s *Simulator) Raster() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, s.opts.Width, s.opts.Height))
	vision.FillPolygon(img, s.corners[:], 255)

	// Walls run between points inset from the boundary so the outline stays closed.
	for _, wall := range [][2][2]float64{
		{{0.25, 0.2}, {0.25, 0.7}},
		{{0.5, 0.3}, {0.5, 0.8}},
		{{0.75, 0.2}, {0.75, 0.6}},
		{{0.3, 0.5}, {0.45, 0.5}},
	} {
		a := s.inside(wall[0][0], wall[0][1])
		b := s.inside(wall[1][0], wall[1][1])
		thickness := math.Max(1, float64(s.opts.Width)/256)
		vision.FillPolygon(img, strip(a, b, thickness), 0)
	}
	return img
}

// inside maps (u, v) in [0,1]^2 onto the boundary quadrilateral bilinearly.
func (s *Simulator) inside(u, v float64) geom.Point {
	c := s.corners
	top := lerp(c[0], c[1], u)
	bottom := lerp(c[3], c[2], u)
	return lerp(top, bottom, v)
}

func lerp(a, b geom.Point, t float64) geom.Point {
	return geom.Point{X: a.X + (b.X-a.X)*t, Y: a.Y + (b.Y-a.Y)*t}
}

func strip(a, b geom.Point, thickness float64) []geom.Point {
	dx, dy := b.X-a.X, b.Y-a.Y
	n := math.Hypot(dx, dy)
	if n == 0 {
		return nil
	}
	nx, ny := -dy/n*thickness/2, dx/n*thickness/2
	return []geom.Point{
		{X: a.X + nx, Y: a.Y + ny},
		{X: b.X + nx, Y: b.Y + ny},
		{X: b.X - nx, Y: b.Y - ny},
		{X: a.X - nx, Y: a.Y - ny},
	}
}

// Maze returns the encoded mazeData message.
func (s *Simulator) Maze() []byte { return s.maze }

// loop returns the position of car i at phase t (radians) on its ellipse,
// in normalized maze coordinates.
func loop(i int, t float64) (float64, float64) {
	ru := 0.12 + 0.05*float64(i)
	rv := 0.10 + 0.06*float64(i)
	dir := 1.0
	if i%2 == 1 {
		dir = -1
	}
	phase := float64(i)*math.Pi/2 + dir*t
	return 0.5 + ru*math.Cos(phase), 0.5 + rv*math.Sin(phase)
}

// Entities builds the entity update for the given tick.
func (s *Simulator) Entities(tick int) types.EntityUpdate {
	upd := types.EntityUpdate{
		Cars:  make(map[string]types.CarPosition, len(Colors)),
		Paths: make(map[string][]types.PathPoint, len(Colors)),
	}
	const step = 0.05
	for i, color := range Colors {
		t := float64(tick) * step
		p := s.inside(loop(i, t))
		next := s.inside(loop(i, t+step))
		orientation := math.Atan2(next.Y-p.Y, next.X-p.X) * 180 / math.Pi
		upd.Cars[color] = types.CarPosition{X: round(p.X), Y: round(p.Y), Orientation: &orientation}

		path := make([]types.PathPoint, 0, s.opts.PathLength)
		for k := 1; k <= s.opts.PathLength; k++ {
			q := s.inside(loop(i, t+float64(k)*step*2))
			path = append(path, types.PathPoint{X: round(q.X), Y: round(q.Y)})
		}
		upd.Paths[color] = path
	}
	return upd
}

func round(v float64) float64 { return math.Round(v*10) / 10 }

// Stream emits the maze first, then one entity update per tick at rate Hz.
// The maze is repeated every MazeEvery ticks.
func (s *Simulator) Stream(ctx context.Context, rate float64) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		if rate <= 0 {
			rate = 10
		}
		ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
		defer ticker.Stop()

		send := func(msg []byte) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- msg:
				return true
			}
		}

		if !send(s.maze) {
			return
		}
		for tick := 0; ; tick++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if s.opts.MazeEvery > 0 && tick > 0 && tick%s.opts.MazeEvery == 0 {
				if !send(s.maze) {
					return
				}
			}
			msg, err := json.Marshal(s.Entities(tick))
			if err != nil {
				continue
			}
			if !send(msg) {
				return
			}
		}
	}()
	return out
}
