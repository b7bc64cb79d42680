// Package rle converts maze masks between *image.Gray rasters and the
// run-length pairs carried in mazeData messages.
package rle

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
)

var (
	ErrSizeMismatch = errors.New("rle: decoded sample count does not match width*height")
	ErrInvalidRun   = errors.New("rle: invalid run")
)

// Run is one (value, count) pair. On the wire it is the two element array [value, count].
type Run struct {
	Value uint8
	Count int
}

func (r Run) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{int(r.Value), r.Count})
}

func (r *Run) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRun, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: expected [value,count], got %d elements", ErrInvalidRun, len(pair))
	}
	if pair[0] < 0 || pair[0] > 255 {
		return fmt.Errorf("%w: value %d out of range", ErrInvalidRun, pair[0])
	}
	r.Value = uint8(pair[0])
	r.Count = pair[1]
	return nil
}

// Decode rebuilds the width x height raster. The runs must cover the raster
// exactly; a short or long run list is ErrSizeMismatch.
func Decode(runs []Run, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrSizeMismatch, width, height)
	}
	total := width * height
	img := image.NewGray(image.Rect(0, 0, width, height))
	idx := 0
	for i, run := range runs {
		if run.Count < 0 {
			return nil, fmt.Errorf("%w: run %d has negative count %d", ErrInvalidRun, i, run.Count)
		}
		if idx+run.Count > total {
			return nil, fmt.Errorf("%w: runs exceed %d samples at run %d", ErrSizeMismatch, total, i)
		}
		fill := img.Pix[idx : idx+run.Count]
		for j := range fill {
			fill[j] = run.Value
		}
		idx += run.Count
	}
	if idx != total {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrSizeMismatch, idx, total)
	}
	return img, nil
}

// Encode produces the shortest run list for img in row-major order.
func Encode(img *image.Gray) []Run {
	b := img.Bounds()
	var runs []Run
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y) : img.PixOffset(b.Min.X, y)+b.Dx()]
		for _, v := range row {
			if n := len(runs); n > 0 && runs[n-1].Value == v {
				runs[n-1].Count++
				continue
			}
			runs = append(runs, Run{Value: v, Count: 1})
		}
	}
	return runs
}
