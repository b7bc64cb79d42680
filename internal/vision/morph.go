package vision

import "image"

// rectMorph applies a k x k rectangular minimum (erode) or maximum (dilate)
// filter iterations times. The rectangle is separable, so each iteration is
// one horizontal and one vertical 1-D pass. The window is clipped at the
// image border, which matches OpenCV's default border for both operations.
// The anchor sits at k/2 as in cv::getStructuringElement.
func rectMorph(src *image.Gray, k, iterations int, dilate bool) *image.Gray {
	out := Clone(src)
	if k <= 1 || iterations <= 0 || len(out.Pix) == 0 {
		return out
	}
	tmp := image.NewGray(out.Rect)
	for i := 0; i < iterations; i++ {
		rankRows(tmp, out, k, dilate)
		rankCols(out, tmp, k, dilate)
	}
	return out
}

func erodeRect(src *image.Gray, k, iterations int) *image.Gray {
	return rectMorph(src, k, iterations, false)
}

func dilateRect(src *image.Gray, k, iterations int) *image.Gray {
	return rectMorph(src, k, iterations, true)
}

// window returns the clipped [lo, hi] range of a k-wide window at i.
func window(i, k, n int) (int, int) {
	lo := i - k/2
	hi := lo + k - 1
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}

func rankRows(dst, src *image.Gray, k int, dilate bool) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		s := src.Pix[y*src.Stride : y*src.Stride+w]
		d := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := 0; x < w; x++ {
			lo, hi := window(x, k, w)
			v := s[lo]
			for j := lo + 1; j <= hi; j++ {
				if dilate {
					v = max(v, s[j])
				} else {
					v = min(v, s[j])
				}
			}
			d[x] = v
		}
	}
}

func rankCols(dst, src *image.Gray, k int, dilate bool) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		lo, hi := window(y, k, h)
		d := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		copy(d, src.Pix[lo*src.Stride:lo*src.Stride+w])
		for j := lo + 1; j <= hi; j++ {
			s := src.Pix[j*src.Stride : j*src.Stride+w]
			for x := range d {
				if dilate {
					d[x] = max(d[x], s[x])
				} else {
					d[x] = min(d[x], s[x])
				}
			}
		}
	}
}
