package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	// Register decoders for the frame formats a camera may send.
	_ "image/png"

	_ "golang.org/x/image/webp"
	xdraw "golang.org/x/image/draw"
)

// DecodeFrame decodes an encoded camera frame (JPEG, PNG or WebP).
func DecodeFrame(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding frame (format=%s): %w", format, err)
	}
	return img, nil
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// CropTop returns a copy of img without its first top rows, with bounds
// starting at the origin. The result is empty when top covers the whole image.
func CropTop(img image.Image, top int) *image.RGBA {
	b := img.Bounds()
	if top < 0 {
		top = 0
	}
	if top > b.Dy() {
		top = b.Dy()
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()-top))
	xdraw.Copy(out, image.Point{}, img, image.Rect(b.Min.X, b.Min.Y+top, b.Max.X, b.Max.Y), xdraw.Src, nil)
	return out
}

// Gray converts img to 8-bit luma using the BT.601 weights.
func Gray(img image.Image) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(out, image.Point{}, img, b, xdraw.Src, nil)
	return out
}

// GaussianBlur smooths src with a ksize x ksize Gaussian kernel. The sigma is
// derived from the kernel size and borders are reflected without repeating
// the edge pixel.
func GaussianBlur(src *image.Gray, ksize int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if ksize <= 1 || w == 0 || h == 0 {
		out := image.NewGray(src.Rect)
		copy(out.Pix, src.Pix)
		return out
	}
	kernel := gaussianKernel(ksize)
	r := ksize / 2

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			var acc float64
			for k := -r; k <= r; k++ {
				acc += kernel[k+r] * float64(row[reflect101(x+k, w)])
			}
			tmp[y*w+x] = acc
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -r; k <= r; k++ {
				acc += kernel[k+r] * tmp[reflect101(y+k, h)*w+x]
			}
			out.Pix[y*out.Stride+x] = clampByte(acc)
		}
	}
	return out
}

func gaussianKernel(ksize int) []float64 {
	sigma := 0.3*((float64(ksize)-1)*0.5-1) + 0.8
	r := ksize / 2
	kernel := make([]float64, ksize)
	var sum float64
	for i := range kernel {
		d := float64(i - r)
		kernel[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// reflect101 maps i into [0, n) mirroring around the border pixels: -1 -> 1.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// blend composites overlay onto dst as alpha*dst + beta*overlay, saturating.
func blend(dst, overlay *image.RGBA, alpha, beta float64) {
	for i := 0; i+3 < len(dst.Pix) && i+3 < len(overlay.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			dst.Pix[i+c] = clampByte(alpha*float64(dst.Pix[i+c]) + beta*float64(overlay.Pix[i+c]))
		}
		dst.Pix[i+3] = 0xff
	}
}

var (
	keptColor    = color.RGBA{B: 255, A: 255}
	droppedColor = color.RGBA{R: 255, A: 255}
	arrowColor   = color.RGBA{G: 255, A: 255}
	labelColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)
