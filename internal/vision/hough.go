package vision

import (
	"image"
	"math"
	"math/rand/v2"
)

// HoughParams configures the probabilistic Hough transform. The accumulator
// resolution is fixed at one pixel and one degree.
type HoughParams struct {
	Threshold     int
	MinLineLength int
	MaxLineGap    int
}

const (
	houghAngles = 180
	houghShift  = 16
	houghSeed   = 0x5eed
)

// HoughLines finds line segments in a binary edge map with the progressive
// probabilistic Hough transform. Edge pixels are visited in a pseudo-random
// order seeded with a constant, so results are reproducible for equal input.
func HoughLines(edges *image.Gray, p HoughParams) []Segment {
	w, h := edges.Rect.Dx(), edges.Rect.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	threshold := p.Threshold
	if threshold < 1 {
		threshold = 1
	}

	numRho := (w+h)*2 + 1
	offset := (numRho - 1) / 2
	accum := make([]int, houghAngles*numRho)
	cosT := make([]float64, houghAngles)
	sinT := make([]float64, houghAngles)
	for n := 0; n < houghAngles; n++ {
		theta := float64(n) * math.Pi / houghAngles
		cosT[n] = math.Cos(theta)
		sinT[n] = math.Sin(theta)
	}

	mask := make([]bool, w*h)
	points := make([]image.Point, 0, 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if edges.Pix[y*edges.Stride+x] != 0 {
				mask[y*w+x] = true
				points = append(points, image.Pt(x, y))
			}
		}
	}

	rho := func(n, x, y int) int {
		return int(math.RoundToEven(float64(x)*cosT[n]+float64(y)*sinT[n])) + offset
	}
	vote := func(x, y, delta int) (best, bestN int) {
		best, bestN = threshold-1, 0
		for n := 0; n < houghAngles; n++ {
			i := n*numRho + rho(n, x, y)
			accum[i] += delta
			if accum[i] > best {
				best, bestN = accum[i], n
			}
		}
		return best, bestN
	}

	rng := rand.New(rand.NewPCG(houghSeed, uint64(w)<<32|uint64(h)))
	var segments []Segment

	for count := len(points); count > 0; count-- {
		idx := rng.IntN(count)
		pt := points[idx]
		points[idx] = points[count-1]

		if !mask[pt.Y*w+pt.X] {
			continue
		}
		best, n := vote(pt.X, pt.Y, 1)
		if best < threshold {
			continue
		}

		walk := walker{w: w, h: h, mask: mask, gap: p.MaxLineGap}
		walk.init(pt, -sinT[n], cosT[n])
		ends := [2]image.Point{walk.extent(0), walk.extent(1)}

		good := absInt(ends[1].X-ends[0].X) >= p.MinLineLength ||
			absInt(ends[1].Y-ends[0].Y) >= p.MinLineLength

		for k := 0; k < 2; k++ {
			walk.clear(k, ends[k], func(x, y int) {
				if good {
					vote(x, y, -1)
				}
			})
		}

		if good {
			segments = append(segments, Segment{X1: ends[0].X, Y1: ends[0].Y, X2: ends[1].X, Y2: ends[1].Y})
		}
	}
	return segments
}

// walker steps along a line through a seed pixel in fixed point, one pixel
// at a time along the dominant axis.
type walker struct {
	w, h   int
	mask   []bool
	gap    int
	xflag  bool
	x0, y0 int
	dx, dy int
}

func (l *walker) init(seed image.Point, a, b float64) {
	l.x0, l.y0 = seed.X, seed.Y
	if math.Abs(a) > math.Abs(b) {
		l.xflag = true
		l.dx = 1
		if a <= 0 {
			l.dx = -1
		}
		l.dy = int(math.RoundToEven(b * (1 << houghShift) / math.Abs(a)))
		l.y0 = (l.y0 << houghShift) + (1 << (houghShift - 1))
	} else {
		l.xflag = false
		l.dy = 1
		if b <= 0 {
			l.dy = -1
		}
		l.dx = int(math.RoundToEven(a * (1 << houghShift) / math.Abs(b)))
		l.x0 = (l.x0 << houghShift) + (1 << (houghShift - 1))
	}
}

func (l *walker) step(k int) (dx, dy int) {
	if k > 0 {
		return -l.dx, -l.dy
	}
	return l.dx, l.dy
}

func (l *walker) pixel(x, y int) (int, int) {
	if l.xflag {
		return x, y >> houghShift
	}
	return x >> houghShift, y
}

// extent walks in direction k and returns the last edge pixel reached before
// leaving the image or exceeding the allowed gap.
func (l *walker) extent(k int) image.Point {
	dx, dy := l.step(k)
	last := image.Pt(l.pixel(l.x0, l.y0))
	gap := 0
	for x, y := l.x0, l.y0; ; x, y = x+dx, y+dy {
		px, py := l.pixel(x, y)
		if px < 0 || px >= l.w || py < 0 || py >= l.h {
			break
		}
		if l.mask[py*l.w+px] {
			gap = 0
			last = image.Pt(px, py)
		} else {
			gap++
			if gap > l.gap {
				break
			}
		}
	}
	return last
}

// clear walks in direction k up to end, unmarking edge pixels and calling
// fn for each one that was still set.
func (l *walker) clear(k int, end image.Point, fn func(x, y int)) {
	dx, dy := l.step(k)
	for x, y := l.x0, l.y0; ; x, y = x+dx, y+dy {
		px, py := l.pixel(x, y)
		if px < 0 || px >= l.w || py < 0 || py >= l.h {
			return
		}
		i := py*l.w + px
		if l.mask[i] {
			fn(px, py)
			l.mask[i] = false
		}
		if px == end.X && py == end.Y {
			return
		}
	}
}
