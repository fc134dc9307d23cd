package source

import (
	"context"
	"image"
	"image/color"
	"sync"

	"edgecast/pkg/models"
)

// Pattern is a synthetic video source: a test card of vertical color bars
// with a white block that moves one step per frame, so consecutive frames
// always differ.
type Pattern struct {
	width  int
	height int

	frame  int
	closed bool
	mu     sync.Mutex
}

var patternBars = []color.RGBA{
	{192, 192, 192, 255},
	{192, 192, 0, 255},
	{0, 192, 192, 255},
	{0, 192, 0, 255},
	{192, 0, 192, 255},
	{192, 0, 0, 255},
	{0, 0, 192, 255},
}

// NewPattern creates a test card source of the given size
func NewPattern(width, height int) *Pattern {
	return &Pattern{width: width, height: height}
}

// Read renders the next frame
func (p *Pattern) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, models.ErrClosed
	}

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	barWidth := p.width / len(patternBars)
	if barWidth == 0 {
		barWidth = 1
	}

	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			bar := x / barWidth
			if bar >= len(patternBars) {
				bar = len(patternBars) - 1
			}
			img.SetRGBA(x, y, patternBars[bar])
		}
	}

	// Moving block, a quarter of the height, sweeping left to right
	size := p.height / 4
	if size > 0 && p.width > size {
		left := p.frame % (p.width - size)
		top := (p.height - size) / 2
		white := color.RGBA{255, 255, 255, 255}
		for y := top; y < top+size; y++ {
			for x := left; x < left+size; x++ {
				img.SetRGBA(x, y, white)
			}
		}
	}

	p.frame++
	return img, nil
}

// Close stops the source
func (p *Pattern) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
