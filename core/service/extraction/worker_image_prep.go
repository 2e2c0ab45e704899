package extraction

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	denoiseSigma   = 0.7
	localMeanSigma = 8.0

	// thresholdOffset darkens the local mean so faint strokes survive.
	thresholdOffset = 10

	// minInk is the share of dark pixels below which thresholding is
	// considered to have wiped the page.
	minInk = 0.002

	fallbackContrast = 40
)

// PreprocessForOCR converts an image to a high-contrast black and white PNG:
// grayscale, light denoise, then an adaptive mean threshold. When the
// threshold leaves almost no ink it falls back to plain contrast
// enhancement.
func PreprocessForOCR(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	gray := imaging.Grayscale(src)
	denoised := imaging.Blur(gray, denoiseSigma)

	out, ink := adaptiveThreshold(denoised)
	if ink < minInk {
		out = imaging.AdjustContrast(gray, fallbackContrast)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// adaptiveThreshold compares each pixel with a blurred local mean. It
// returns the binary image and its share of black pixels.
func adaptiveThreshold(img *image.NRGBA) (*image.NRGBA, float64) {
	mean := imaging.Blur(img, localMeanSigma)
	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)

	var dark, total int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := int(img.NRGBAAt(x, y).R)
			m := int(mean.NRGBAAt(x-bounds.Min.X, y-bounds.Min.Y).R)
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if v < m-thresholdOffset {
				c = color.NRGBA{A: 255}
				dark++
			}
			out.SetNRGBA(x, y, c)
			total++
		}
	}
	if total == 0 {
		return out, 0
	}
	return out, float64(dark) / float64(total)
}
