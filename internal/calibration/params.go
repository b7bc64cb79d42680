package calibration

import "fmt"

// Params tunes the boundary detection pipeline. The defaults match the wall
// thickness of the mazes the producer sends.
type Params struct {
	BlurKernel      int     `yaml:"blur_kernel" json:"blur_kernel"`
	CloseKernel     int     `yaml:"close_kernel" json:"close_kernel"`
	CloseIterations int     `yaml:"close_iterations" json:"close_iterations"`
	OpenKernel      int     `yaml:"open_kernel" json:"open_kernel"`
	OpenIterations  int     `yaml:"open_iterations" json:"open_iterations"`
	ErodeKernel     int     `yaml:"erode_kernel" json:"erode_kernel"`
	ErodeIterations int     `yaml:"erode_iterations" json:"erode_iterations"`
	CannyLow        float64 `yaml:"canny_low" json:"canny_low"`
	CannyHigh       float64 `yaml:"canny_high" json:"canny_high"`
	// Margin is the minimum distance, exclusive, between the boundary's
	// bounding box and every raster edge.
	Margin int `yaml:"margin" json:"margin"`
	// Epsilon is the polygon approximation tolerance as a fraction of the
	// boundary's arc length.
	Epsilon float64 `yaml:"epsilon" json:"epsilon"`
}

func DefaultParams() Params {
	return Params{
		BlurKernel:      5,
		CloseKernel:     5,
		CloseIterations: 7,
		OpenKernel:      3,
		OpenIterations:  6,
		ErodeKernel:     3,
		ErodeIterations: 3,
		CannyLow:        50,
		CannyHigh:       150,
		Margin:          20,
		Epsilon:         0.02,
	}
}

func (p Params) Validate() error {
	for name, k := range map[string]int{
		"blur_kernel":  p.BlurKernel,
		"close_kernel": p.CloseKernel,
		"open_kernel":  p.OpenKernel,
		"erode_kernel": p.ErodeKernel,
	} {
		if k < 1 || k%2 == 0 {
			return fmt.Errorf("calibration: %s must be a positive odd number, got %d", name, k)
		}
	}
	if p.CloseIterations < 0 || p.OpenIterations < 0 || p.ErodeIterations < 0 {
		return fmt.Errorf("calibration: iteration counts must not be negative")
	}
	if p.CannyLow < 0 || p.CannyHigh < p.CannyLow {
		return fmt.Errorf("calibration: invalid canny thresholds %v/%v", p.CannyLow, p.CannyHigh)
	}
	if p.Margin < 0 {
		return fmt.Errorf("calibration: margin must not be negative, got %d", p.Margin)
	}
	if p.Epsilon <= 0 || p.Epsilon >= 1 {
		return fmt.Errorf("calibration: epsilon must be in (0,1), got %v", p.Epsilon)
	}
	return nil
}
