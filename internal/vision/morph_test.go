package vision

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countNonZero(img *image.Gray) int {
	n := 0
	for _, v := range img.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

func TestDilateUsesRectangularElement(t *testing.T) {
	dot := image.NewGray(image.Rect(0, 0, 21, 21))
	dot.SetGray(10, 10, color.Gray{Y: 255})

	out := dilateRect(dot, 5, 1)
	assert.Equal(t, 25, countNonZero(out))
	for _, p := range []image.Point{{8, 8}, {12, 8}, {12, 12}, {8, 12}} {
		assert.Equal(t, uint8(255), out.GrayAt(p.X, p.Y).Y, "corner %v of the square", p)
	}
	assert.Zero(t, out.GrayAt(7, 10).Y)

	// n iterations of a k x k rectangle equal one (n*(k-1)+1) square.
	out = dilateRect(dot, 3, 3)
	assert.Equal(t, 49, countNonZero(out))
	assert.Equal(t, uint8(255), out.GrayAt(7, 7).Y)
}

func TestErodeClipsWindowAtBorder(t *testing.T) {
	white := image.NewGray(image.Rect(0, 0, 9, 7))
	fillRect(white, white.Rect, 255)
	out := erodeRect(white, 3, 4)
	assert.Equal(t, len(out.Pix), countNonZero(out), "border pixels survive erosion")

	block := image.NewGray(image.Rect(0, 0, 20, 20))
	fillRect(block, image.Rect(5, 5, 15, 15), 255)
	out = erodeRect(block, 3, 1)
	assert.Equal(t, 64, countNonZero(out))
	assert.Zero(t, out.GrayAt(5, 5).Y)
	assert.Equal(t, uint8(255), out.GrayAt(6, 6).Y)
}

func TestRectMorphMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := image.NewGray(image.Rect(3, 2, 40, 29))
	for i := range src.Pix {
		src.Pix[i] = uint8(rng.Intn(256))
	}
	local := Clone(src)
	w, h := local.Rect.Dx(), local.Rect.Dy()

	for _, k := range []int{2, 3, 5} {
		for _, dilate := range []bool{false, true} {
			got := rectMorph(src, k, 1, dilate)
			require.Equal(t, local.Rect, got.Rect)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					x0, x1 := window(x, k, w)
					y0, y1 := window(y, k, h)
					want := local.GrayAt(x0, y0).Y
					for yy := y0; yy <= y1; yy++ {
						for xx := x0; xx <= x1; xx++ {
							v := local.GrayAt(xx, yy).Y
							if dilate && v > want || !dilate && v < want {
								want = v
							}
						}
					}
					require.Equal(t, want, got.GrayAt(x, y).Y, "k=%d dilate=%v at %d,%d", k, dilate, x, y)
				}
			}
		}
	}
}

func TestRectMorphNoopCases(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 4))
	src.SetGray(1, 1, color.Gray{Y: 9})
	assert.Equal(t, src.Pix, rectMorph(src, 1, 3, true).Pix)
	assert.Equal(t, src.Pix, rectMorph(src, 3, 0, false).Pix)
	assert.Empty(t, rectMorph(image.NewGray(image.Rectangle{}), 3, 1, true).Pix)
}
