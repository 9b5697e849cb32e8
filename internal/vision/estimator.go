// Package vision estimates a steering correction from lane markings in a
// camera frame.
package vision

import (
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/cs-isia-racer/car/internal/config"
)

// Fallback modes used when a frame yields no usable segment.
const (
	FallbackNeutral = "neutral"
	FallbackLast    = "last"
)

type Params struct {
	CropTop       int
	BlurKernel    int
	CannyLow      float64
	CannyHigh     float64
	Hough         HoughParams
	MaxLineAngle  float64
	MaxSteerAngle float64
	Fallback      string
	Annotate      bool
	JPEGQuality   int
}

func ParamsFromConfig(cfg config.VisionConfig) Params {
	return Params{
		CropTop:    cfg.CropTop,
		BlurKernel: cfg.BlurKernel,
		CannyLow:   cfg.CannyLow,
		CannyHigh:  cfg.CannyHigh,
		Hough: HoughParams{
			Threshold:     cfg.HoughThreshold,
			MinLineLength: cfg.MinLineLength,
			MaxLineGap:    cfg.MaxLineGap,
		},
		MaxLineAngle:  cfg.MaxLineAngle,
		MaxSteerAngle: cfg.MaxSteerAngle,
		Fallback:      cfg.Fallback,
		Annotate:      cfg.Annotate,
		JPEGQuality:   cfg.JPEGQuality,
	}
}

// DefaultParams returns the parameters of the default configuration.
func DefaultParams() Params {
	return ParamsFromConfig(config.Default().Vision)
}

// Result is the outcome of one estimate.
type Result struct {
	// Angle is the normalized steering correction in [-1, 1].
	Angle    float64
	Kept     []Segment
	Dropped  []Segment
	Fallback bool
	// Annotated is set when annotation is enabled.
	Annotated *image.RGBA
}

// Estimator turns frames into steering corrections. It is safe for concurrent
// use; the only state carried between calls is the last computed angle.
type Estimator struct {
	params Params

	mu   sync.Mutex
	last float64
}

func NewEstimator(p Params) *Estimator {
	if p.MaxSteerAngle <= 0 {
		p.MaxSteerAngle = 30
	}
	if p.JPEGQuality <= 0 {
		p.JPEGQuality = 75
	}
	return &Estimator{params: p}
}

// Last returns the last successfully computed angle.
func (e *Estimator) Last() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Estimate runs the pipeline on img. A frame without usable segments yields
// the configured fallback.
func (e *Estimator) Estimate(img image.Image) Result {
	p := e.params
	cropped := CropTop(img, p.CropTop)
	edges := Canny(GaussianBlur(Gray(cropped), p.BlurKernel), p.CannyLow, p.CannyHigh)
	kept, dropped := FilterSegments(HoughLines(edges, p.Hough), p.MaxLineAngle)

	res := Result{Kept: kept, Dropped: dropped}
	angle, ok := SteeringAngle(kept, p.MaxSteerAngle)

	e.mu.Lock()
	if ok {
		e.last = angle
		res.Angle = angle
	} else {
		res.Fallback = true
		if p.Fallback == FallbackLast {
			res.Angle = e.last
		}
	}
	e.mu.Unlock()

	res.Angle = clampUnit(res.Angle)
	if p.Annotate {
		res.Annotated = Render(cropped, kept, dropped, res.Angle, p.MaxSteerAngle)
	}
	return res
}

// ProcessFrame decodes an encoded frame, estimates it and, when annotation is
// enabled, returns the annotated frame as JPEG.
func (e *Estimator) ProcessFrame(frame []byte) (Result, []byte, error) {
	img, err := DecodeFrame(frame)
	if err != nil {
		return Result{}, nil, err
	}
	res := e.Estimate(img)
	if res.Annotated == nil {
		return res, nil, nil
	}
	encoded, err := EncodeJPEG(res.Annotated, e.params.JPEGQuality)
	if err != nil {
		return res, nil, fmt.Errorf("encoding annotation: %w", err)
	}
	return res, encoded, nil
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
