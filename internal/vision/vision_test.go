package vision

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankFrame(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// laneFrame draws one thick white lane marking on black.
func laneFrame(x0, y0, x1, y1 int) *image.RGBA {
	img := blankFrame(224, 224, color.Black)
	DrawLine(img, x0, y0, x1, y1, color.White, 8)
	return img
}

func testParams(fallback string) Params {
	p := DefaultParams()
	p.CropTop = 0
	p.Hough = HoughParams{Threshold: 30, MinLineLength: 40, MaxLineGap: 10}
	p.Fallback = fallback
	p.Annotate = false
	return p
}

func TestReflect101(t *testing.T) {
	assert.Equal(t, 1, reflect101(-1, 5))
	assert.Equal(t, 2, reflect101(-2, 5))
	assert.Equal(t, 3, reflect101(5, 5))
	assert.Equal(t, 2, reflect101(6, 5))
	assert.Equal(t, 0, reflect101(3, 1))
}

func TestGaussianKernelIsNormalized(t *testing.T) {
	k := gaussianKernel(5)
	var sum float64
	for _, v := range k {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.InDelta(t, k[0], k[4], 1e-15)
	assert.Greater(t, k[2], k[1])
}

func TestGaussianBlurKeepsUniformImage(t *testing.T) {
	g := Gray(blankFrame(20, 10, color.Gray{Y: 77}))
	out := GaussianBlur(g, 5)
	for _, v := range out.Pix {
		require.Equal(t, uint8(77), v)
	}
}

func TestCropTop(t *testing.T) {
	img := blankFrame(30, 40, color.White)
	assert.Equal(t, image.Rect(0, 0, 30, 10), CropTop(img, 30).Bounds())
	assert.True(t, CropTop(img, 50).Bounds().Empty())
}

func TestCannyFindsStepEdge(t *testing.T) {
	img := blankFrame(40, 30, color.Black)
	draw.Draw(img, image.Rect(20, 0, 40, 30), image.NewUniform(color.White), image.Point{}, draw.Src)
	edges := Canny(Gray(img), 50, 150)

	for y := 1; y < 29; y++ {
		onEdge := 0
		for x := 0; x < 40; x++ {
			if edges.Pix[y*edges.Stride+x] != 0 {
				assert.InDelta(t, 19.5, float64(x), 1.5, "edge pixel far from the step at row %d", y)
				onEdge++
			}
		}
		assert.GreaterOrEqual(t, onEdge, 1, "row %d has no edge", y)
	}

	flat := Canny(Gray(blankFrame(40, 30, color.White)), 50, 150)
	for _, v := range flat.Pix {
		require.Zero(t, v)
	}
}

func TestHoughFindsVerticalLine(t *testing.T) {
	edges := image.NewGray(image.Rect(0, 0, 200, 200))
	for y := 10; y <= 150; y++ {
		edges.SetGray(50, y, color.Gray{Y: 255})
	}
	segments := HoughLines(edges, HoughParams{Threshold: 60, MinLineLength: 70, MaxLineGap: 10})
	require.Len(t, segments, 1)

	s := segments[0]
	assert.Equal(t, 50, s.X1)
	assert.Equal(t, 50, s.X2)
	assert.ElementsMatch(t, []int{10, 150}, []int{s.Y1, s.Y2})
}

func TestHoughIgnoresShortAndSparseInput(t *testing.T) {
	edges := image.NewGray(image.Rect(0, 0, 100, 100))
	for y := 10; y < 40; y++ {
		edges.SetGray(30, y, color.Gray{Y: 255})
	}
	assert.Empty(t, HoughLines(edges, HoughParams{Threshold: 10, MinLineLength: 70, MaxLineGap: 10}))
	assert.Empty(t, HoughLines(image.NewGray(image.Rect(0, 0, 50, 50)), HoughParams{Threshold: 10}))
}

func TestHoughIsDeterministic(t *testing.T) {
	img := laneFrame(80, 20, 140, 200)
	edges := Canny(GaussianBlur(Gray(img), 5), 50, 150)
	p := HoughParams{Threshold: 30, MinLineLength: 40, MaxLineGap: 10}
	assert.Equal(t, HoughLines(edges, p), HoughLines(edges, p))
}

func TestSegmentAngle(t *testing.T) {
	assert.Equal(t, math.Pi/2, Segment{0, 5, 10, 5}.Angle())
	assert.Equal(t, -math.Pi/2, Segment{10, 5, 0, 5}.Angle())
	assert.Equal(t, 0.0, Segment{3, 0, 3, 40}.Angle())
	assert.InDelta(t, math.Pi/4, Segment{0, 0, 10, 10}.Angle(), 1e-12)
	// orientation does not matter
	assert.Equal(t, Segment{0, 0, 10, 30}.Angle(), Segment{10, 30, 0, 0}.Angle())
	assert.Equal(t, 30.0, Segment{0, 0, 10, 30}.Weight())
}

func TestFilterSegmentsDropsHorizontal(t *testing.T) {
	horizontal := Segment{0, 5, 10, 5}
	steep := Segment{0, 0, 10, 100}
	kept, dropped := FilterSegments([]Segment{horizontal, steep}, 60)
	assert.Equal(t, []Segment{steep}, kept)
	assert.Equal(t, []Segment{horizontal}, dropped)
}

func TestSymmetricSegmentsAverageToZero(t *testing.T) {
	v, ok := SteeringAngle([]Segment{{0, 0, 10, 100}, {0, 0, -10, 100}}, 30)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestSteeringAngleIsWeighted(t *testing.T) {
	long := Segment{0, 0, 0, 200}   // 0 deg, weight 200
	short := Segment{0, 0, 10, 100} // ~5.7 deg, weight 100
	v, ok := SteeringAngle([]Segment{long, short}, 30)
	require.True(t, ok)
	want := -(100 * math.Atan(0.1) / 300) * 180 / math.Pi / 30
	assert.InDelta(t, want, v, 1e-12)

	_, ok = SteeringAngle(nil, 30)
	assert.False(t, ok)
}

func TestSteeringAngleStaysInRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		n := 1 + rng.IntN(6)
		segs := make([]Segment, n)
		for j := range segs {
			segs[j] = Segment{rng.IntN(400) - 200, rng.IntN(400) - 200, rng.IntN(400) - 200, rng.IntN(400) - 200}
		}
		v, ok := SteeringAngle(segs, 30)
		if !ok {
			continue
		}
		require.GreaterOrEqual(t, v, -1.0)
		require.LessOrEqual(t, v, 1.0)
	}

	nearVertical, ok := SteeringAngle([]Segment{{100, 0, 101, 1000}}, 30)
	require.True(t, ok)
	assert.InDelta(t, -math.Atan(0.001)*180/math.Pi/30, nearVertical, 1e-12)

	nearHorizontal, ok := SteeringAngle([]Segment{{0, 0, 1000, 1}}, 30)
	require.True(t, ok)
	assert.Equal(t, -1.0, nearHorizontal)
}

func TestEstimateBlankFrameReturnsFallback(t *testing.T) {
	e := NewEstimator(testParams(FallbackNeutral))
	res := e.Estimate(blankFrame(224, 224, color.Gray{Y: 128}))
	assert.True(t, res.Fallback)
	assert.Equal(t, 0.0, res.Angle)
	assert.Empty(t, res.Kept)
}

func TestEstimateSlantedLane(t *testing.T) {
	e := NewEstimator(testParams(FallbackNeutral))
	res := e.Estimate(laneFrame(80, 20, 140, 200))
	require.False(t, res.Fallback)
	require.NotEmpty(t, res.Kept)
	// the marking leans right going down, about 18 degrees from vertical
	assert.InDelta(t, -math.Atan(60.0/180.0)*180/math.Pi/30, res.Angle, 0.2)
	assert.Equal(t, res.Angle, e.Last())
}

func TestEstimateLastAngleHysteresis(t *testing.T) {
	e := NewEstimator(testParams(FallbackLast))
	first := e.Estimate(laneFrame(80, 20, 140, 200))
	require.False(t, first.Fallback)

	blank := e.Estimate(blankFrame(224, 224, color.Black))
	assert.True(t, blank.Fallback)
	assert.Equal(t, first.Angle, blank.Angle)

	neutral := NewEstimator(testParams(FallbackNeutral))
	neutral.Estimate(laneFrame(80, 20, 140, 200))
	assert.Equal(t, 0.0, neutral.Estimate(blankFrame(224, 224, color.Black)).Angle)
}

func TestEstimateFullyCroppedFrame(t *testing.T) {
	p := testParams(FallbackNeutral)
	p.CropTop = 500
	p.Annotate = true
	res := NewEstimator(p).Estimate(laneFrame(80, 20, 140, 200))
	assert.True(t, res.Fallback)
	assert.Equal(t, 0.0, res.Angle)
}

func TestProcessFrameAnnotates(t *testing.T) {
	p := testParams(FallbackNeutral)
	p.CropTop = 24
	p.Annotate = true
	e := NewEstimator(p)

	frame, err := EncodeJPEG(laneFrame(80, 20, 140, 200), 90)
	require.NoError(t, err)
	res, annotated, err := e.ProcessFrame(frame)
	require.NoError(t, err)
	require.NotNil(t, annotated)
	assert.GreaterOrEqual(t, res.Angle, -1.0)
	assert.LessOrEqual(t, res.Angle, 1.0)

	img, err := DecodeFrame(annotated)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 224, 200), img.Bounds())

	_, _, err = e.ProcessFrame([]byte("not an image"))
	assert.Error(t, err)
}

func TestRenderBlendsOverlay(t *testing.T) {
	src := blankFrame(64, 64, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	out := Render(src, []Segment{{10, 0, 10, 63}}, []Segment{{50, 0, 50, 63}}, 0, 30)

	kept := out.RGBAAt(10, 40)
	assert.Equal(t, uint8(255), kept.B)
	assert.Equal(t, uint8(80), kept.R)

	dropped := out.RGBAAt(50, 40)
	assert.Equal(t, uint8(255), dropped.R)

	untouched := out.RGBAAt(30, 40)
	assert.Equal(t, color.RGBA{R: 80, G: 80, B: 80, A: 255}, untouched)

	// source is not modified
	assert.Equal(t, uint8(100), src.RGBAAt(10, 40).R)
}
