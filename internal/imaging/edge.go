package imaging

import (
	"context"
	"fmt"
	"image"
	"math"
)

// EdgeOptions configures Canny edge detection.
type EdgeOptions struct {
	// BlurKernel is the side length of the square Gaussian kernel applied before
	// gradient computation. Must be odd and >= 1. Typical value: 5.
	BlurKernel int

	// BlurSigma is the standard deviation of the Gaussian kernel in pixels.
	// Typical value: 1.0.
	BlurSigma float64

	// ThresholdLow is the hysteresis low threshold (0-255). Gradients below it
	// are discarded.
	ThresholdLow int

	// ThresholdHigh is the hysteresis high threshold (0-255). Gradients above
	// it are always kept.
	ThresholdHigh int
}

// DefaultEdgeOptions returns the thresholds tuned for white paper on a
// darker background: 5x5 kernel, sigma 1, thresholds 75/200.
func DefaultEdgeOptions() EdgeOptions {
	return EdgeOptions{
		BlurKernel:    5,
		BlurSigma:     1.0,
		ThresholdLow:  75,
		ThresholdHigh: 200,
	}
}

// Validate reports whether the options describe a usable edge detector.
func (o EdgeOptions) Validate() error {
	if o.BlurKernel < 1 || o.BlurKernel%2 == 0 {
		return fmt.Errorf("blur kernel must be a positive odd number, got %d", o.BlurKernel)
	}
	if o.BlurSigma <= 0 {
		return fmt.Errorf("blur sigma must be positive, got %g", o.BlurSigma)
	}
	if o.ThresholdLow < 0 || o.ThresholdLow > o.ThresholdHigh {
		return fmt.Errorf("invalid edge thresholds low=%d high=%d", o.ThresholdLow, o.ThresholdHigh)
	}
	return nil
}

// EdgeDetectResult contains an edge-detected image encoded as base64 PNG.
//
// The result is a grayscale image where white pixels (255) represent detected
// edges and black pixels (0) represent non-edges.
type EdgeDetectResult struct {
	// Width of the output image in pixels (same as input).
	Width int `json:"width"`

	// Height of the output image in pixels (same as input).
	Height int `json:"height"`

	// EdgePixels is the number of pixels marked as edges.
	EdgePixels int `json:"edge_pixels"`

	// ImageBase64 is the edge image encoded as base64 PNG.
	ImageBase64 string `json:"image_base64"`

	// MimeType is always "image/png" for edge detection results.
	MimeType string `json:"mime_type"`
}

// EdgeDetect runs Canny on an image with the given thresholds and the default
// blur, returning the edge map as base64 PNG for inspection.
//
// Recommended starting points:
//   - Sheet photographed on a desk: thresholdLow=75, thresholdHigh=200
//   - Flatbed scans: thresholdLow=50, thresholdHigh=150
func EdgeDetect(img image.Image, thresholdLow, thresholdHigh int) (*EdgeDetectResult, error) {
	opts := DefaultEdgeOptions()
	opts.ThresholdLow = thresholdLow
	opts.ThresholdHigh = thresholdHigh
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	edges := Canny(ToGray(img, GrayLuma), opts)

	count := 0
	for _, v := range edges.Pix {
		if v != 0 {
			count++
		}
	}

	encoded, err := EncodePNGBase64(edges)
	if err != nil {
		return nil, fmt.Errorf("failed to encode edge image: %w", err)
	}

	return &EdgeDetectResult{
		Width:       edges.Bounds().Dx(),
		Height:      edges.Bounds().Dy(),
		EdgePixels:  count,
		ImageBase64: encoded,
		MimeType:    "image/png",
	}, nil
}

// Canny performs Canny edge detection on a grayscale image.
//
// The output has the same dimensions as the input with its origin at (0,0).
// Edge pixels are 255, everything else 0.
//
// # Algorithm
//
//  1. Gaussian blur with a generated BlurKernel x BlurKernel kernel
//  2. Sobel gradients: magnitude = sqrt(Gx² + Gy²), direction = atan2(Gy, Gx)
//  3. Non-maximum suppression along the quantized gradient direction
//  4. Hysteresis: pixels above ThresholdHigh seed edges, which grow through
//     8-connected pixels above ThresholdLow
//
// Intensities are normalized to 0-1 before filtering, so thresholds are
// compared against magnitude*255.
func Canny(src *image.Gray, opts EdgeOptions) *image.Gray {
	edges, _ := CannyContext(context.Background(), src, opts)
	return edges
}

// cancelCheckRows is how many rows the long-running loops process between
// context checks.
const cancelCheckRows = 32

// CheckContext returns ctx.Err() on every cancelCheckRows-th row, nil
// otherwise.
func CheckContext(ctx context.Context, row int) error {
	if row%cancelCheckRows != 0 {
		return nil
	}
	return ctx.Err()
}

// CannyContext is Canny with cancellation. It stops between rows once ctx
// is done and returns ctx.Err().
func CannyContext(ctx context.Context, src *image.Gray, opts EdgeOptions) (*image.Gray, error) {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, height)
	for y := 0; y < height; y++ {
		if err := CheckContext(ctx, y); err != nil {
			return nil, err
		}
		gray[y] = make([]float64, width)
		off := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
		for x := 0; x < width; x++ {
			gray[y][x] = float64(src.Pix[off+x]) / 255.0
		}
	}

	blurred := gaussianBlur(gray, width, height, opts.BlurKernel, opts.BlurSigma)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	magnitude := make([][]float64, height)
	direction := make([][]float64, height)

	sobelX := [3][3]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}
	sobelY := [3][3]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}

	for y := 0; y < height; y++ {
		if err := CheckContext(ctx, y); err != nil {
			return nil, err
		}
		magnitude[y] = make([]float64, width)
		direction[y] = make([]float64, width)

		for x := 0; x < width; x++ {
			var gx, gy float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					py := clamp(y+ky, 0, height-1)
					px := clamp(x+kx, 0, width-1)
					gx += blurred[py][px] * sobelX[ky+1][kx+1]
					gy += blurred[py][px] * sobelY[ky+1][kx+1]
				}
			}
			magnitude[y][x] = math.Sqrt(gx*gx + gy*gy)
			direction[y][x] = math.Atan2(gy, gx)
		}
	}

	// Non-maximum suppression
	suppressed := make([][]float64, height)
	for y := 0; y < height; y++ {
		if err := CheckContext(ctx, y); err != nil {
			return nil, err
		}
		suppressed[y] = make([]float64, width)
		for x := 0; x < width; x++ {
			if y == 0 || y == height-1 || x == 0 || x == width-1 {
				continue
			}

			angle := direction[y][x]
			mag := magnitude[y][x]

			var n1, n2 float64
			if (angle >= -math.Pi/8 && angle < math.Pi/8) || (angle >= 7*math.Pi/8 || angle < -7*math.Pi/8) {
				n1 = magnitude[y][x-1]
				n2 = magnitude[y][x+1]
			} else if (angle >= math.Pi/8 && angle < 3*math.Pi/8) || (angle >= -7*math.Pi/8 && angle < -5*math.Pi/8) {
				n1 = magnitude[y-1][x-1]
				n2 = magnitude[y+1][x+1]
			} else if (angle >= 3*math.Pi/8 && angle < 5*math.Pi/8) || (angle >= -5*math.Pi/8 && angle < -3*math.Pi/8) {
				n1 = magnitude[y-1][x]
				n2 = magnitude[y+1][x]
			} else {
				n1 = magnitude[y-1][x+1]
				n2 = magnitude[y+1][x-1]
			}

			if mag >= n1 && mag >= n2 {
				suppressed[y][x] = mag
			}
		}
	}

	// Hysteresis: seed from strong pixels, grow through weak ones
	result := image.NewGray(image.Rect(0, 0, width, height))
	lowThresh := float64(opts.ThresholdLow) / 255.0
	highThresh := float64(opts.ThresholdHigh) / 255.0

	stack := make([]image.Point, 0, 1024)
	for y := 0; y < height; y++ {
		if err := CheckContext(ctx, y); err != nil {
			return nil, err
		}
		for x := 0; x < width; x++ {
			if suppressed[y][x] > 0 && suppressed[y][x] >= highThresh && result.Pix[y*result.Stride+x] == 0 {
				result.Pix[y*result.Stride+x] = 255
				stack = append(stack, image.Point{X: x, Y: y})

				for len(stack) > 0 {
					p := stack[len(stack)-1]
					stack = stack[:len(stack)-1]

					for dy := -1; dy <= 1; dy++ {
						for dx := -1; dx <= 1; dx++ {
							nx, ny := p.X+dx, p.Y+dy
							if nx < 0 || ny < 0 || nx >= width || ny >= height {
								continue
							}
							idx := ny*result.Stride + nx
							if result.Pix[idx] != 0 || suppressed[ny][nx] < lowThresh || suppressed[ny][nx] == 0 {
								continue
							}
							result.Pix[idx] = 255
							stack = append(stack, image.Point{X: nx, Y: ny})
						}
					}
				}
			}
		}
	}

	return result, nil
}

// gaussianBlur convolves the image with a size x size Gaussian kernel.
//
// For size 5 and sigma ≈ 1.4 this reproduces the classic 1-4-7-4-1 kernel
// (sum 273). Border pixels use clamped (replicated) edge values.
func gaussianBlur(img [][]float64, width, height, size int, sigma float64) [][]float64 {
	kernel := gaussianKernel(size, sigma)
	half := size / 2

	result := make([][]float64, height)
	for y := 0; y < height; y++ {
		result[y] = make([]float64, width)
		for x := 0; x < width; x++ {
			var sum float64
			for ky := -half; ky <= half; ky++ {
				for kx := -half; kx <= half; kx++ {
					py := clamp(y+ky, 0, height-1)
					px := clamp(x+kx, 0, width-1)
					sum += img[py][px] * kernel[ky+half][kx+half]
				}
			}
			result[y][x] = sum
		}
	}
	return result
}

// gaussianKernel builds a normalized 2D Gaussian kernel.
func gaussianKernel(size int, sigma float64) [][]float64 {
	half := size / 2
	kernel := make([][]float64, size)
	var total float64
	for ky := -half; ky <= half; ky++ {
		kernel[ky+half] = make([]float64, size)
		for kx := -half; kx <= half; kx++ {
			v := math.Exp(-float64(kx*kx+ky*ky) / (2 * sigma * sigma))
			kernel[ky+half][kx+half] = v
			total += v
		}
	}
	for y := range kernel {
		for x := range kernel[y] {
			kernel[y][x] /= total
		}
	}
	return kernel
}

// clamp constrains an integer value to the range [min, max].
// Used for boundary handling in convolution operations.
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
