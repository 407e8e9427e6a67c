package imaging

import (
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/blur"
)

// LocalMean selects the neighbourhood weighting used by adaptive thresholding.
type LocalMean int

const (
	// MeanGaussian weights the neighbourhood with a Gaussian falloff.
	MeanGaussian LocalMean = iota
	// MeanBox weights every neighbourhood pixel equally.
	MeanBox
)

// String returns the configuration name of the method.
func (m LocalMean) String() string {
	switch m {
	case MeanGaussian:
		return "gaussian"
	case MeanBox:
		return "box"
	default:
		return fmt.Sprintf("LocalMean(%d)", int(m))
	}
}

// ParseLocalMean converts a configuration name ("gaussian" or "box") to a LocalMean.
func ParseLocalMean(s string) (LocalMean, error) {
	switch s {
	case "", "gaussian":
		return MeanGaussian, nil
	case "box", "mean":
		return MeanBox, nil
	default:
		return MeanGaussian, fmt.Errorf("unknown local mean %q (want gaussian or box)", s)
	}
}

// OtsuThreshold computes the global threshold that maximizes the between-class
// variance of the image's intensity histogram.
//
// Pixels with intensity <= the returned value form the dark class. When
// several thresholds tie, the lowest one is returned. A uniform image yields 0.
func OtsuThreshold(gray *image.Gray) uint8 {
	var hist [256]int
	bounds := gray.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		off := gray.PixOffset(bounds.Min.X, y)
		for _, v := range gray.Pix[off : off+bounds.Dx()] {
			hist[v]++
		}
	}

	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0
	}

	var sumAll float64
	for i, n := range hist {
		sumAll += float64(i * n)
	}

	var (
		sumBack    float64
		weightBack int
		best       float64
		threshold  uint8
	)
	for t := 0; t < 256; t++ {
		weightBack += hist[t]
		if weightBack == 0 {
			continue
		}
		weightFore := total - weightBack
		if weightFore == 0 {
			break
		}

		sumBack += float64(t * hist[t])
		meanBack := sumBack / float64(weightBack)
		meanFore := (sumAll - sumBack) / float64(weightFore)

		between := float64(weightBack) * float64(weightFore) * (meanBack - meanFore) * (meanBack - meanFore)
		if between > best {
			best = between
			threshold = uint8(t)
		}
	}
	return threshold
}

// ThresholdInverse marks every pixel with intensity <= level as ink (255) and
// everything else as background (0).
//
// The output has its origin at (0,0).
func ThresholdInverse(gray *image.Gray, level uint8) *image.Gray {
	bounds := gray.Bounds()
	width := bounds.Dx()
	out := image.NewGray(image.Rect(0, 0, width, bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		src := gray.Pix[gray.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < width; x++ {
			if src[x] <= level {
				dst[x] = 255
			}
		}
	}
	return out
}

// AdaptiveThresholdInverse marks a pixel as ink (255) when its intensity is at
// most the mean of its neighbourhood minus c.
//
// Parameters:
//   - gray: Source grayscale image.
//   - radius: Neighbourhood radius in pixels. A radius of 25 corresponds to a
//     51x51 block.
//   - c: Constant subtracted from the local mean. Larger values suppress
//     paper texture and faint shadows. Typical: 10.
//   - method: Neighbourhood weighting (Gaussian or box).
//
// Because the threshold follows the local mean, a shadow across part of the
// sheet shifts the threshold with it instead of flooding the region with ink.
func AdaptiveThresholdInverse(gray *image.Gray, radius, c float64, method LocalMean) *image.Gray {
	var mean *image.RGBA
	switch method {
	case MeanBox:
		mean = blur.Box(gray, radius)
	default:
		mean = blur.Gaussian(gray, radius)
	}

	bounds := gray.Bounds()
	mb := mean.Bounds()
	width := bounds.Dx()
	out := image.NewGray(image.Rect(0, 0, width, bounds.Dy()))
	for y := 0; y < bounds.Dy(); y++ {
		src := gray.Pix[gray.PixOffset(bounds.Min.X, bounds.Min.Y+y):]
		avg := mean.Pix[mean.PixOffset(mb.Min.X, mb.Min.Y+y):]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < width; x++ {
			// Gray input is replicated across R, G and B by bild, so R is the mean.
			if float64(src[x]) <= float64(avg[x*4])-c {
				dst[x] = 255
			}
		}
	}
	return out
}
