// Package session is the consumer-side orchestrator: it decodes maze frames
// into calibrations and feeds mapped entity updates into motion tracking.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"maze-relay-go/internal/calibration"
	"maze-relay-go/internal/geom"
	"maze-relay-go/internal/mapper"
	"maze-relay-go/internal/motion"
	"maze-relay-go/internal/rle"
	"maze-relay-go/internal/types"
)

type Options struct {
	// ScaleX and ScaleY convert rectified maze units into display units.
	ScaleX, ScaleY float64
	MotionDuration time.Duration
	NoticeTTL      time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

type Session struct {
	engine  *calibration.Engine
	cal     atomic.Pointer[calibration.Calibration]
	scaleX  float64
	scaleY  float64
	tracker *motion.Tracker
	notices *Notices
	now     func() time.Time
	logger  *slog.Logger

	pathsMu sync.RWMutex
	paths   map[string][]geom.Point

	mazes    atomic.Uint64
	updates  atomic.Uint64
	failures atomic.Uint64
}

func New(engine *calibration.Engine, opts Options) *Session {
	if opts.ScaleX == 0 {
		opts.ScaleX = 1
	}
	if opts.ScaleY == 0 {
		opts.ScaleY = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		engine:  engine,
		scaleX:  opts.ScaleX,
		scaleY:  opts.ScaleY,
		tracker: motion.NewTracker(opts.MotionDuration),
		notices: NewNotices(opts.NoticeTTL),
		now:     opts.Now,
		logger:  opts.Logger,
		paths:   make(map[string][]geom.Point),
	}
}

// HandleMessage dispatches one message received from the relay.
func (s *Session) HandleMessage(raw []byte) error {
	kind, err := types.Classify(raw)
	if err != nil {
		s.logger.Warn("dropping malformed message", "bytes", len(raw), "error", err)
		return fmt.Errorf("classify message: %w", err)
	}
	switch kind {
	case types.KindMaze:
		var md types.MazeData
		if err := json.Unmarshal(raw, &md); err != nil {
			return s.fail("decode maze message", err)
		}
		return s.HandleMaze(md)
	case types.KindEntities:
		var upd types.EntityUpdate
		if err := json.Unmarshal(raw, &upd); err != nil {
			return s.fail("decode entity update", err)
		}
		s.HandleEntities(upd)
	}
	return nil
}

// HandleMaze decodes the frame and replaces the calibration. A frame that
// does not decode is discarded and the previous calibration stays in place.
func (s *Session) HandleMaze(md types.MazeData) error {
	frame, err := rle.Decode(md.RLEData, md.Width, md.Height)
	if err != nil {
		return s.fail("decode maze image", err)
	}
	cal := s.engine.Calibrate(frame)
	s.cal.Store(cal)
	s.mazes.Add(1)
	s.logger.Info("maze calibrated",
		"width", md.Width, "height", md.Height,
		"rectified", cal.Rectified(), "duration", cal.Duration)
	return nil
}

// HandleEntities maps every car and path through the calibration current at
// the time of the call.
func (s *Session) HandleEntities(upd types.EntityUpdate) {
	cal := s.cal.Load()
	now := s.now()
	for key, car := range upd.Cars {
		x, y := mapper.MapPoint(car.X, car.Y, cal, s.scaleX, s.scaleY)
		pose := motion.Pose{X: x, Y: y}
		if car.Orientation != nil {
			pose.Orientation = mapper.MapOrientation(*car.Orientation, cal)
			pose.HasOrientation = true
		}
		s.tracker.Update(key, pose, now)
	}
	if len(upd.Paths) > 0 {
		mapped := make(map[string][]geom.Point, len(upd.Paths))
		for key, pts := range upd.Paths {
			out := make([]geom.Point, len(pts))
			for i, p := range pts {
				out[i].X, out[i].Y = mapper.MapPoint(p.X, p.Y, cal, s.scaleX, s.scaleY)
			}
			mapped[key] = out
		}
		s.pathsMu.Lock()
		for key, pts := range mapped {
			s.paths[key] = pts
		}
		s.pathsMu.Unlock()
	}
	s.updates.Add(1)
}

func (s *Session) fail(what string, err error) error {
	s.failures.Add(1)
	s.notices.Post(fmt.Sprintf("Error processing maze image: %v", err), s.now())
	s.logger.Error(what, "error", err)
	return fmt.Errorf("%s: %w", what, err)
}

// Calibration returns the current calibration, or nil before the first maze.
func (s *Session) Calibration() *calibration.Calibration {
	return s.cal.Load()
}

// Paths returns a copy of the latest mapped path per entity.
func (s *Session) Paths() map[string][]geom.Point {
	s.pathsMu.RLock()
	defer s.pathsMu.RUnlock()
	out := make(map[string][]geom.Point, len(s.paths))
	for k, v := range s.paths {
		out[k] = append([]geom.Point(nil), v...)
	}
	return out
}

func (s *Session) Tracker() *motion.Tracker { return s.tracker }

// Notice returns the transient error message to display, if any.
func (s *Session) Notice() (string, bool) {
	return s.notices.Current(s.now())
}

func (s *Session) Scale() (float64, float64) { return s.scaleX, s.scaleY }

// Frame is what a renderer needs for one tick.
type Frame struct {
	Calibration *calibration.Calibration
	Cars        map[string]motion.Pose
	Keys        []string
	Paths       map[string][]geom.Point
	Notice      string
}

// Tick advances motion to the session clock and returns a consistent frame.
func (s *Session) Tick() Frame {
	now := s.now()
	cars := s.tracker.Tick(now)
	keys := make([]string, 0, len(cars))
	for k := range cars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	notice, _ := s.notices.Current(now)
	return Frame{
		Calibration: s.cal.Load(),
		Cars:        cars,
		Keys:        keys,
		Paths:       s.Paths(),
		Notice:      notice,
	}
}

type Stats struct {
	Mazes     uint64 `json:"mazes"`
	Updates   uint64 `json:"updates"`
	Failures  uint64 `json:"failures"`
	Rectified bool   `json:"rectified"`
	Entities  int    `json:"entities"`
}

func (s *Session) Stats() Stats {
	return Stats{
		Mazes:     s.mazes.Load(),
		Updates:   s.updates.Load(),
		Failures:  s.failures.Load(),
		Rectified: s.cal.Load().Rectified(),
		Entities:  s.tracker.Len(),
	}
}
