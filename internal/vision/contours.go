package vision

import (
	"image"

	"github.com/anthonynsimon/bild/segment"
)

// Moore neighbourhood, clockwise in raster coordinates starting at west.
var neighbours = [8]image.Point{
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
}

func neighbourIndex(d image.Point) int {
	for i, n := range neighbours {
		if n == d {
			return i
		}
	}
	return 0
}

// externalContours labels 8-connected foreground components and traces the
// outer boundary of every component that borders the background reachable
// from the raster edge. Components enclosed by another one are skipped.
func externalContours(src *image.Gray) []Contour {
	bin := segment.Threshold(src, 1)
	w, h := bin.Rect.Dx(), bin.Rect.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	fg := func(i int) bool { return bin.Pix[i] != 0 }

	// Background reachable from the border, 4-connected.
	outside := make([]bool, w*h)
	stack := make([]int, 0, 2*(w+h))
	seed := func(i int) {
		if !fg(i) && !outside[i] {
			outside[i] = true
			stack = append(stack, i)
		}
	}
	for x := 0; x < w; x++ {
		seed(x)
		seed((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		seed(y * w)
		seed(y*w + w - 1)
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		if x > 0 {
			seed(i - 1)
		}
		if x < w-1 {
			seed(i + 1)
		}
		if y > 0 {
			seed(i - w)
		}
		if y < h-1 {
			seed(i + w)
		}
	}

	labels := make([]int32, w*h)
	var next int32
	var contours []Contour
	for start := 0; start < w*h; start++ {
		if !fg(start) || labels[start] != 0 {
			continue
		}
		next++
		external := false
		labels[start] = next
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				external = true
			}
			for _, d := range neighbours {
				nx, ny := x+d.X, y+d.Y
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if fg(j) {
					if labels[j] == 0 {
						labels[j] = next
						stack = append(stack, j)
					}
				} else if outside[j] && (d.X == 0 || d.Y == 0) {
					external = true
				}
			}
		}
		if external {
			contours = append(contours, traceBoundary(labels, w, h, next, image.Pt(start%w, start/w)))
		}
	}
	return contours
}

// traceBoundary walks the outer boundary of component lbl clockwise from its
// top-left pixel using Moore-neighbour tracing.
func traceBoundary(labels []int32, w, h int, lbl int32, start image.Point) Contour {
	inside := func(p image.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h && labels[p.Y*w+p.X] == lbl
	}

	contour := Contour{start}
	cur := start
	back := 0 // west of the top-left pixel is background
	var first image.Point
	limit := 4*w*h + 8
	for step := 0; step < limit; step++ {
		found := -1
		for k := 1; k <= 8; k++ {
			d := (back + k) % 8
			if inside(cur.Add(neighbours[d])) {
				found = d
				break
			}
		}
		if found < 0 {
			return contour
		}
		nextPt := cur.Add(neighbours[found])
		if step == 0 {
			first = nextPt
		} else if cur == start && nextPt == first {
			break
		}
		backPt := cur.Add(neighbours[(found+7)%8])
		back = neighbourIndex(backPt.Sub(nextPt))
		cur = nextPt
		if cur == start {
			continue
		}
		contour = append(contour, cur)
	}
	return contour
}
