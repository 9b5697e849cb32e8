package vision

import (
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

const (
	sourceWeight  = 0.8
	overlayWeight = 1.0
)

// Render draws kept segments, dropped segments and an arrow for the commanded
// direction onto a copy of src and blends them over it.
func Render(src image.Image, kept, dropped []Segment, angle, maxSteer float64) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(out, image.Point{}, src, b, xdraw.Src, nil)
	if b.Empty() {
		return out
	}

	overlay := image.NewRGBA(out.Rect)
	for _, s := range dropped {
		DrawLine(overlay, s.X1, s.Y1, s.X2, s.Y2, droppedColor, 2)
	}
	for _, s := range kept {
		DrawLine(overlay, s.X1, s.Y1, s.X2, s.Y2, keptColor, 5)
	}

	w, h := out.Rect.Dx(), out.Rect.Dy()
	length := 0.6 * float64(h)
	theta := angle * maxSteer * math.Pi / 180
	x0, y0 := w/2, h-1
	x1 := x0 + int(math.Round(length*math.Sin(theta)))
	y1 := y0 - int(math.Round(length*math.Cos(theta)))
	DrawArrow(overlay, x0, y0, x1, y1, arrowColor, 3)

	blend(out, overlay, sourceWeight, overlayWeight)
	DrawLabel(out, 4, 13, labelColor, fmt.Sprintf("steer %+.2f  lines %d/%d", angle, len(kept), len(kept)+len(dropped)))
	return out
}
