// Package vision holds the per-frame image stages: Sobel edge detection and the
// optional background-subtraction pre-filter.
package vision

import (
	"math"

	"edgecast/pkg/models"
)

// EdgeThreshold is the gradient magnitude above which a pixel is an edge
const EdgeThreshold = 128

// Luma weights applied per pixel
const (
	lumaR = 0.30
	lumaG = 0.59
	lumaB = 0.11
)

var (
	sobelX = [9]int{
		-1, 0, 1,
		-2, 0, 2,
		-1, 0, 1,
	}
	sobelY = [9]int{
		-1, -2, -1,
		0, 0, 0,
		1, 2, 1,
	}
)

// Detect replaces f with its edge silhouette: pixels whose Sobel gradient
// magnitude exceeds EdgeThreshold become overlay, every other pixel becomes
// opaque black. Border pixels are never edges. Frames narrower or shorter
// than 3 pixels have no interior and come out all black.
//
// Detect is not idempotent; running it on its own output mostly erases the
// silhouette.
func Detect(f *models.Frame, overlay models.RGB) error {
	if err := f.Validate(); err != nil {
		return err
	}

	gray := Grayscale(f)
	mask := EdgeMask(gray, f.Width, f.Height)

	for i, v := range mask {
		p := i * models.BytesPerPixel
		if v == 255 {
			f.Pix[p] = overlay.R
			f.Pix[p+1] = overlay.G
			f.Pix[p+2] = overlay.B
		} else {
			f.Pix[p] = 0
			f.Pix[p+1] = 0
			f.Pix[p+2] = 0
		}
		f.Pix[p+3] = 255
	}

	return nil
}

// Grayscale converts an RGBA frame to one luma byte per pixel.
// The weighted sum is rounded half to even and saturated to 0-255, so the
// result never wraps.
func Grayscale(f *models.Frame) []byte {
	gray := make([]byte, f.Width*f.Height)
	for i := range gray {
		p := i * models.BytesPerPixel
		v := lumaR*float64(f.Pix[p]) + lumaG*float64(f.Pix[p+1]) + lumaB*float64(f.Pix[p+2])
		gray[i] = saturate(v)
	}
	return gray
}

func saturate(v float64) byte {
	v = math.RoundToEven(v)
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return byte(v)
}

// EdgeMask convolves the interior of gray with both Sobel kernels and
// returns a width*height mask of 0 or 255. Border entries stay 0.
func EdgeMask(gray []byte, width, height int) []byte {
	mask := make([]byte, width*height)
	if width < 3 || height < 3 {
		return mask
	}

	// sqrt(gx²+gy²) > T  <=>  gx²+gy² > T², kept in integers
	const limit = EdgeThreshold * EdgeThreshold

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			gx, gy := gradient(gray, width, x, y)
			if gx*gx+gy*gy > limit {
				mask[y*width+x] = 255
			}
		}
	}

	return mask
}

// Magnitude returns the Sobel gradient magnitude at interior pixel (x, y)
func Magnitude(gray []byte, width, x, y int) float64 {
	gx, gy := gradient(gray, width, x, y)
	return math.Sqrt(float64(gx*gx + gy*gy))
}

func gradient(gray []byte, width, x, y int) (gx, gy int) {
	for ky := -1; ky <= 1; ky++ {
		row := (y + ky) * width
		for kx := -1; kx <= 1; kx++ {
			v := int(gray[row+x+kx])
			k := (ky+1)*3 + (kx + 1)
			gx += v * sobelX[k]
			gy += v * sobelY[k]
		}
	}
	return gx, gy
}
