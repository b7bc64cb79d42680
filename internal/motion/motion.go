// Package motion animates entity markers toward their latest reported pose.
//
// Network updates only set targets. A render loop advances every entity by
// calling Tick with its own clock, so the package never reads wall time.
package motion

import (
	"sort"
	"sync"
	"time"
)

// DefaultDuration is the time an entity takes to glide to a new target.
const DefaultDuration = 500 * time.Millisecond

type Phase int

const (
	Idle Phase = iota
	Animating
)

func (p Phase) String() string {
	if p == Animating {
		return "animating"
	}
	return "idle"
}

// Pose is a position in display coordinates with an optional heading in degrees.
type Pose struct {
	X, Y           float64
	Orientation    float64
	HasOrientation bool
}

// State is the motion of a single entity. The zero value is not ready; use NewState.
type State struct {
	duration time.Duration
	phase    Phase
	from     Pose
	current  Pose
	target   Pose
	started  time.Time
}

// NewState places an entity at p without animating.
func NewState(p Pose, duration time.Duration) *State {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &State{duration: duration, from: p, current: p, target: p}
}

func (s *State) Phase() Phase  { return s.phase }
func (s *State) Current() Pose { return s.current }
func (s *State) Target() Pose  { return s.target }

// SetTarget starts a new animation from the current, possibly partially
// interpolated, pose.
func (s *State) SetTarget(p Pose, now time.Time) {
	s.from = s.current
	if p.HasOrientation && !s.from.HasOrientation {
		s.from.Orientation = p.Orientation
		s.from.HasOrientation = true
	}
	s.target = p
	s.started = now
	s.phase = Animating
}

// Tick advances the animation to now and returns the current pose.
func (s *State) Tick(now time.Time) Pose {
	if s.phase != Animating {
		return s.current
	}
	progress := float64(now.Sub(s.started)) / float64(s.duration)
	if progress >= 1 {
		s.current = s.target
		s.from = s.target
		s.phase = Idle
		return s.current
	}
	if progress < 0 {
		progress = 0
	}
	s.current = Pose{
		X: s.from.X + (s.target.X-s.from.X)*progress,
		Y: s.from.Y + (s.target.Y-s.from.Y)*progress,
	}
	switch {
	case s.target.HasOrientation:
		s.current.Orientation = s.from.Orientation + (s.target.Orientation-s.from.Orientation)*progress
		s.current.HasOrientation = true
	case s.from.HasOrientation:
		s.current.Orientation = s.from.Orientation
		s.current.HasOrientation = true
	}
	return s.current
}

// Tracker holds the motion state of every entity key. It is safe for
// concurrent use by a network reader and a render loop.
type Tracker struct {
	mu       sync.Mutex
	duration time.Duration
	states   map[string]*State
}

func NewTracker(duration time.Duration) *Tracker {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Tracker{duration: duration, states: make(map[string]*State)}
}

// Update sets a new target for key. An unseen key appears at p immediately.
func (t *Tracker) Update(key string, p Pose, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key]
	if !ok {
		t.states[key] = NewState(p, t.duration)
		return
	}
	s.SetTarget(p, now)
}

// Tick advances all entities and returns their poses.
func (t *Tracker) Tick(now time.Time) map[string]Pose {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Pose, len(t.states))
	for k, s := range t.states {
		out[k] = s.Tick(now)
	}
	return out
}

// Snapshot returns the current poses without advancing them.
func (t *Tracker) Snapshot() map[string]Pose {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Pose, len(t.states))
	for k, s := range t.states {
		out[k] = s.current
	}
	return out
}

func (t *Tracker) Keys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.states))
	for k := range t.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Tracker) Phase(key string) (Phase, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key]
	if !ok {
		return Idle, false
	}
	return s.phase, true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}
