package vision

import (
	"fmt"
	"image"
	"math"

	"maze-relay-go/internal/geom"
)

// warpPerspective maps every destination pixel back through the inverse of h
// and samples the source bilinearly. Samples outside the source are 0.
func warpPerspective(src *image.Gray, h geom.Homography, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("warp: invalid size %dx%d", width, height)
	}
	inv, err := h.Inverse()
	if err != nil {
		return nil, fmt.Errorf("warp: %w", err)
	}
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sx, sy := inv.Apply(float64(x), float64(y))
			out.Pix[y*out.Stride+x] = bilinear(src, sw, sh, sx, sy)
		}
	}
	return out, nil
}

func bilinear(src *image.Gray, w, h int, x, y float64) uint8 {
	if math.IsNaN(x) || math.IsNaN(y) || x < -1 || y < -1 || x > float64(w) || y > float64(h) {
		return 0
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)
	px := func(xi, yi int) float64 {
		if xi < 0 || yi < 0 || xi >= w || yi >= h {
			return 0
		}
		return float64(src.Pix[yi*src.Stride+xi])
	}
	top := px(x0, y0)*(1-fx) + px(x0+1, y0)*fx
	bottom := px(x0, y0+1)*(1-fx) + px(x0+1, y0+1)*fx
	v := top*(1-fy) + bottom*fy
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}
