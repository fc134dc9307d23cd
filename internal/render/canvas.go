package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"edgecast/pkg/models"
)

// Canvas is a fixed-size RGBA drawing surface. Anything painted on it is
// stretched to the canvas size; aspect ratio is not preserved.
type Canvas struct {
	frame   *models.Frame
	updated time.Time
	mu      sync.RWMutex
}

// NewCanvas creates a cleared canvas
func NewCanvas(width, height int) *Canvas {
	return &Canvas{frame: models.NewFrame(width, height)}
}

// Size returns the logical canvas size
func (c *Canvas) Size() (int, int) {
	return c.frame.Width, c.frame.Height
}

// Paint clears the canvas and draws img stretched over all of it
func (c *Canvas) Paint(img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stretch(c.frame, img)
	c.updated = time.Now()
}

// Clear resets every pixel to transparent black
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.frame.Pix)
	c.updated = time.Now()
}

// Snapshot returns a copy of the current pixels
func (c *Canvas) Snapshot() *models.Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame.Clone()
}

// Updated returns when the canvas was last drawn on
func (c *Canvas) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

// PNG encodes the current pixels
func (c *Canvas) PNG() ([]byte, error) {
	snap := c.Snapshot()

	var buf bytes.Buffer
	if err := png.Encode(&buf, snap.RGBA()); err != nil {
		return nil, fmt.Errorf("failed to encode canvas: %w", err)
	}
	return buf.Bytes(), nil
}

// Stretch returns img scaled to width x height as a new frame
func Stretch(img image.Image, width, height int) *models.Frame {
	f := models.NewFrame(width, height)
	stretch(f, img)
	return f
}

func stretch(dst *models.Frame, img image.Image) {
	view := dst.RGBA()

	// Same-size RGBA sources are copied as is
	if src, ok := img.(*image.RGBA); ok && src.Rect == view.Rect && src.Stride == view.Stride {
		copy(view.Pix, src.Pix)
		return
	}

	xdraw.BiLinear.Scale(view, view.Bounds(), img, img.Bounds(), xdraw.Src, nil)
}
