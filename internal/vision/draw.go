package vision

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DrawLine strokes a line of the given thickness onto img using Bresenham
// stepping with a square brush. Pixels outside img are ignored.
func DrawLine(img draw.Image, x0, y0, x1, y1 int, c color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	half := thickness / 2
	dx := absInt(x1 - x0)
	dy := -absInt(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	bounds := img.Bounds()
	e := dx + dy
	for {
		for by := y0 - half; by < y0-half+thickness; by++ {
			for bx := x0 - half; bx < x0-half+thickness; bx++ {
				if image.Pt(bx, by).In(bounds) {
					img.Set(bx, by, c)
				}
			}
		}
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// DrawArrow strokes a line from (x0,y0) to (x1,y1) with a two-stroke head.
func DrawArrow(img draw.Image, x0, y0, x1, y1 int, c color.Color, thickness int) {
	DrawLine(img, x0, y0, x1, y1, c, thickness)
	length := math.Hypot(float64(x1-x0), float64(y1-y0))
	if length == 0 {
		return
	}
	head := math.Max(6, length*0.2)
	theta := math.Atan2(float64(y1-y0), float64(x1-x0))
	for _, side := range []float64{-1, 1} {
		phi := theta + math.Pi - side*math.Pi/6
		hx := x1 + int(math.Round(head*math.Cos(phi)))
		hy := y1 + int(math.Round(head*math.Sin(phi)))
		DrawLine(img, x1, y1, hx, hy, c, thickness)
	}
}

// DrawLabel writes text with its baseline at (x, y).
func DrawLabel(img draw.Image, x, y int, c color.Color, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
