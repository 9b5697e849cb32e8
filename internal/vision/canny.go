package vision

import "image"

const (
	edgeNone   = 0
	edgeWeak   = 1
	edgeStrong = 2
)

// Canny returns an edge map of src: 255 on edges, 0 elsewhere. Gradients come
// from 3x3 Sobel operators with L1 magnitude. Pixels above high seed edges,
// which then grow through pixels above low.
func Canny(src *image.Gray, low, high float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w < 3 || h < 3 {
		return out
	}
	if low > high {
		low, high = high, low
	}

	gx := make([]int, w*h)
	gy := make([]int, w*h)
	mag := make([]int, w*h)
	px := func(x, y int) int {
		return int(src.Pix[reflect101(y, h)*src.Stride+reflect101(x, w)])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx := (px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1)) -
				(px(x-1, y-1) + 2*px(x-1, y) + px(x-1, y+1))
			dy := (px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1)) -
				(px(x-1, y-1) + 2*px(x, y-1) + px(x+1, y-1))
			i := y*w + x
			gx[i], gy[i] = dx, dy
			mag[i] = absInt(dx) + absInt(dy)
		}
	}

	// Non-maximum suppression along the quantized gradient direction.
	// tan(22.5deg) and tan(67.5deg) scaled by 2^15.
	const (
		tg22 = 13573
		tg67 = 79109
	)
	class := make([]uint8, w*h)
	stack := make([]int, 0, w)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if float64(m) <= low {
				continue
			}
			ax, ay := absInt(gx[i]), absInt(gy[i])<<15
			var a, b int
			switch {
			case ay < tg22*ax:
				a, b = mag[i-1], mag[i+1]
			case ay > tg67*ax:
				a, b = mag[i-w], mag[i+w]
			default:
				if (gx[i] < 0) != (gy[i] < 0) {
					a, b = mag[i-w+1], mag[i+w-1]
				} else {
					a, b = mag[i-w-1], mag[i+w+1]
				}
			}
			if m <= a || m < b {
				continue
			}
			if float64(m) > high {
				class[i] = edgeStrong
				stack = append(stack, i)
			} else {
				class[i] = edgeWeak
			}
		}
	}

	// Hysteresis: promote weak pixels 8-connected to a strong one.
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out.Pix[(i/w)*out.Stride+i%w] = 255
		y, x := i/w, i%w
		for ny := y - 1; ny <= y+1; ny++ {
			for nx := x - 1; nx <= x+1; nx++ {
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if class[j] == edgeWeak {
					class[j] = edgeStrong
					stack = append(stack, j)
				}
			}
		}
	}
	return out
}
