package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"github.com/cs-isia-racer/car/internal/vision"
)

var (
	roadColor = color.RGBA{R: 70, G: 70, B: 70, A: 255}
	skyColor  = color.RGBA{R: 120, G: 160, B: 200, A: 255}
	laneColor = color.RGBA{R: 250, G: 250, B: 250, A: 255}
)

// MockCamera synthesizes JPEG frames of a two-lane road whose heading sways
// slowly, paced at the configured frame rate.
type MockCamera struct {
	width, height int
	ticker        *time.Ticker

	mu     sync.Mutex
	seq    int
	closed bool
	done   chan struct{}
}

func NewMockCamera(width, height, frameRate int) *MockCamera {
	if frameRate < 1 {
		frameRate = 1
	}
	return &MockCamera{
		width:  width,
		height: height,
		ticker: time.NewTicker(time.Second / time.Duration(frameRate)),
		done:   make(chan struct{}),
	}
}

func (c *MockCamera) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrCameraClosed
	case <-c.ticker.C:
	}

	c.mu.Lock()
	seq := c.seq
	c.seq++
	c.mu.Unlock()

	frame, err := RenderRoad(c.width, c.height, seq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraClosed, err)
	}
	return frame, nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.ticker.Stop()
	close(c.done)
	return nil
}

// RenderRoad draws frame number seq of the synthetic road and encodes it as JPEG.
func RenderRoad(width, height, seq int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	horizon := height * 2 / 5
	draw.Draw(img, image.Rect(0, 0, width, horizon), image.NewUniform(skyColor), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, horizon, width, height), image.NewUniform(roadColor), image.Point{}, draw.Src)

	sway := math.Sin(float64(seq)/45.0) * float64(width) / 6
	vanishX := width/2 + int(sway)
	thickness := max(2, width/56)
	vision.DrawLine(img, width/8, height-1, vanishX-width/12, horizon, laneColor, thickness)
	vision.DrawLine(img, width*7/8, height-1, vanishX+width/12, horizon, laneColor, thickness)
	vision.DrawLabel(img, 4, 14, color.Black, fmt.Sprintf("capture_id: %d", seq))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
