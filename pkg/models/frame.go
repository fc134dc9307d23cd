package models

import (
	"fmt"
	"image"
	"image/draw"
	"strconv"
	"strings"
)

// BytesPerPixel is the size of one RGBA pixel in a Frame buffer
const BytesPerPixel = 4

// Frame is one raster image exchanged between pipeline stages.
// Pix holds Width*Height RGBA pixels, row-major, 4 bytes each.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// NewFrame allocates a zeroed frame of the given size
func NewFrame(width, height int) *Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Frame{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*BytesPerPixel),
	}
}

// FrameFromImage copies any image into a new RGBA frame
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == b.Dx()*BytesPerPixel && b.Min == (image.Point{}) {
		copy(f.Pix, rgba.Pix)
		return f
	}
	draw.Draw(f.RGBA(), f.RGBA().Bounds(), img, b.Min, draw.Src)
	return f
}

// Validate checks the buffer length invariant (len(Pix) == W*H*4)
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame: %w", ErrBufferSize)
	}
	if f.Width < 0 || f.Height < 0 {
		return fmt.Errorf("negative dimensions %dx%d: %w", f.Width, f.Height, ErrBufferSize)
	}
	if want := f.Width * f.Height * BytesPerPixel; len(f.Pix) != want {
		return fmt.Errorf("frame %dx%d has %d bytes, want %d: %w", f.Width, f.Height, len(f.Pix), want, ErrBufferSize)
	}
	return nil
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Width: f.Width, Height: f.Height, Pix: pix}
}

// RGBA returns an image view sharing the frame's buffer
func (f *Frame) RGBA() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * BytesPerPixel,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// At returns the RGBA bytes of pixel (x, y)
func (f *Frame) At(x, y int) [4]byte {
	i := (y*f.Width + x) * BytesPerPixel
	return [4]byte{f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]}
}

// Fill sets every pixel to the given color with full opacity
func (f *Frame) Fill(c RGB) {
	for i := 0; i+3 < len(f.Pix); i += BytesPerPixel {
		f.Pix[i] = c.R
		f.Pix[i+1] = c.G
		f.Pix[i+2] = c.B
		f.Pix[i+3] = 255
	}
}

// RGB is an opaque overlay color
type RGB struct {
	R, G, B uint8
}

// DefaultOverlay is the olive edge color used when none is configured
var DefaultOverlay = RGB{R: 139, G: 117, B: 0}

// ParseRGB parses "r,g,b" with each component in 0-255
func ParseRGB(s string) (RGB, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return RGB{}, fmt.Errorf("invalid color %q: want r,g,b", s)
	}

	var out [3]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return RGB{}, fmt.Errorf("invalid color component %q: %w", p, err)
		}
		out[i] = uint8(v)
	}

	return RGB{R: out[0], G: out[1], B: out[2]}, nil
}

func (c RGB) String() string {
	return fmt.Sprintf("%d,%d,%d", c.R, c.G, c.B)
}
