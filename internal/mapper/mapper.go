// Package mapper converts raw producer coordinates into display coordinates
// through the current calibration.
package mapper

import (
	"math"

	"maze-relay-go/internal/calibration"
)

// MapPoint applies the homography, then the rectified offset, then the
// display scale. Without a homography only the scale is applied.
func MapPoint(x, y float64, cal *calibration.Calibration, scaleX, scaleY float64) (float64, float64) {
	if !cal.Rectified() {
		return x * scaleX, y * scaleY
	}
	rx, ry := cal.Homography.Apply(x, y)
	return (rx + cal.OffsetX) * scaleX, (ry + cal.OffsetY) * scaleY
}

// MapOrientation rotates a heading in degrees through the linear part of the
// homography. The result is always in [0, 360).
func MapOrientation(deg float64, cal *calibration.Calibration) float64 {
	if !cal.Rectified() {
		return NormalizeDegrees(deg)
	}
	rad := deg * math.Pi / 180
	dx, dy := cal.Homography.ApplyVector(math.Cos(rad), math.Sin(rad))
	if dx == 0 && dy == 0 {
		return NormalizeDegrees(deg)
	}
	return NormalizeDegrees(math.Atan2(dy, dx) * 180 / math.Pi)
}

// NormalizeDegrees wraps any finite angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}
