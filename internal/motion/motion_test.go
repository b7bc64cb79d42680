package motion

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestStateInterpolatesLinearly(t *testing.T) {
	s := NewState(Pose{X: 0, Y: 0}, DefaultDuration)
	assert.Equal(t, Idle, s.Phase())

	s.SetTarget(Pose{X: 100, Y: -50}, t0)
	assert.Equal(t, Animating, s.Phase())

	p := s.Tick(t0.Add(250 * time.Millisecond))
	assert.InDelta(t, 50, p.X, 1e-9)
	assert.InDelta(t, -25, p.Y, 1e-9)
	assert.Equal(t, Animating, s.Phase())

	p = s.Tick(t0.Add(DefaultDuration))
	assert.Equal(t, Pose{X: 100, Y: -50}, p)
	assert.Equal(t, Idle, s.Phase())
}

func TestStateSnapsExactlyToTarget(t *testing.T) {
	target := Pose{X: 0.1 + 0.2, Y: 1.0 / 3.0, Orientation: 359.9, HasOrientation: true}
	s := NewState(Pose{X: 7.77, Y: 3.33, Orientation: 1, HasOrientation: true}, DefaultDuration)
	s.SetTarget(target, t0)

	for i := 1; i <= 100; i++ {
		s.Tick(t0.Add(time.Duration(i) * 13 * time.Millisecond))
	}
	require.Equal(t, Idle, s.Phase())
	for i := 0; i < 10; i++ {
		require.Equal(t, target, s.Tick(t0.Add(time.Hour+time.Duration(i)*time.Second)))
	}
	assert.Equal(t, target, s.Current())
}

func TestStateRestartsFromPartialPose(t *testing.T) {
	s := NewState(Pose{}, DefaultDuration)
	s.SetTarget(Pose{X: 100}, t0)
	mid := s.Tick(t0.Add(250 * time.Millisecond))
	require.InDelta(t, 50, mid.X, 1e-9)

	later := t0.Add(250 * time.Millisecond)
	s.SetTarget(Pose{X: 0, Y: 100}, later)

	p := s.Tick(later)
	assert.InDelta(t, 50, p.X, 1e-9, "no snap on retarget")
	assert.InDelta(t, 0, p.Y, 1e-9)

	p = s.Tick(later.Add(250 * time.Millisecond))
	assert.InDelta(t, 25, p.X, 1e-9)
	assert.InDelta(t, 50, p.Y, 1e-9)

	p = s.Tick(later.Add(time.Second))
	assert.Equal(t, Pose{X: 0, Y: 100}, p)
}

func TestStateOrientation(t *testing.T) {
	s := NewState(Pose{X: 1, Y: 1}, DefaultDuration)
	s.SetTarget(Pose{X: 2, Y: 2, Orientation: 90, HasOrientation: true}, t0)
	p := s.Tick(t0.Add(100 * time.Millisecond))
	assert.True(t, p.HasOrientation)
	assert.Equal(t, 90.0, p.Orientation, "heading adopted when none was known")

	s.SetTarget(Pose{X: 3, Y: 3, Orientation: 180, HasOrientation: true}, t0.Add(time.Second))
	p = s.Tick(t0.Add(time.Second + 250*time.Millisecond))
	assert.InDelta(t, 135, p.Orientation, 1e-9)

	// A target without heading keeps the last one.
	s.Tick(t0.Add(1900 * time.Millisecond))
	s.SetTarget(Pose{X: 4, Y: 4}, t0.Add(2*time.Second))
	p = s.Tick(t0.Add(2*time.Second + 100*time.Millisecond))
	assert.True(t, p.HasOrientation)
	assert.InDelta(t, 180, p.Orientation, 1e-9)
}

func TestStateClockBeforeStart(t *testing.T) {
	s := NewState(Pose{X: 10}, time.Second)
	s.SetTarget(Pose{X: 20}, t0)
	assert.Equal(t, 10.0, s.Tick(t0.Add(-time.Second)).X)
}

func TestTracker(t *testing.T) {
	tr := NewTracker(0)
	tr.Update("red", Pose{X: 5, Y: 5}, t0)
	tr.Update("blue", Pose{X: 1, Y: 1}, t0)

	assert.Equal(t, []string{"blue", "red"}, tr.Keys())
	assert.Equal(t, 2, tr.Len())
	phase, ok := tr.Phase("red")
	require.True(t, ok)
	assert.Equal(t, Idle, phase, "first sighting is placed, not animated")

	tr.Update("red", Pose{X: 15, Y: 5}, t0)
	poses := tr.Tick(t0.Add(250 * time.Millisecond))
	assert.InDelta(t, 10, poses["red"].X, 1e-9)
	assert.Equal(t, Pose{X: 1, Y: 1}, poses["blue"])
	assert.InDelta(t, 10, tr.Snapshot()["red"].X, 1e-9)

	_, ok = tr.Phase("green")
	assert.False(t, ok)
}

func TestTrackerConcurrentUse(t *testing.T) {
	tr := NewTracker(DefaultDuration)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			tr.Update("red", Pose{X: float64(i)}, t0.Add(time.Duration(i)*time.Millisecond))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			tr.Tick(t0.Add(time.Duration(i) * time.Millisecond))
		}
	}()
	wg.Wait()
	assert.Equal(t, Pose{X: 499}, tr.Tick(t0.Add(time.Hour))["red"])
}
