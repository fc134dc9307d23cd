//go:build gocv

package vision

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"edgecast/pkg/models"
)

// MOG2Config configures the Gaussian-mixture background model
type MOG2Config struct {
	History       int     // frames of history the model learns from
	VarThreshold  float64 // squared Mahalanobis distance for foreground
	DetectShadows bool    // mark shadows separately (treated as background)
}

// DefaultMOG2Config mirrors OpenCV's defaults
func DefaultMOG2Config() MOG2Config {
	return MOG2Config{History: 500, VarThreshold: 16, DetectShadows: true}
}

// MOG2Available reports whether this binary can run MOG2
func MOG2Available() bool { return true }

// MOG2 blacks out background pixels using OpenCV's BackgroundSubtractorMOG2.
// The number of Gaussian mixtures is fixed by OpenCV (5); gocv does not expose it.
type MOG2 struct {
	model gocv.BackgroundSubtractorMOG2
	mu    sync.Mutex
}

// NewMOG2 creates the model. Close releases the native resources.
func NewMOG2(cfg MOG2Config) *MOG2 {
	return &MOG2{
		model: gocv.NewBackgroundSubtractorMOG2WithParams(cfg.History, cfg.VarThreshold, cfg.DetectShadows),
	}
}

// Apply updates the model with frame and returns a copy whose background is black
func (m *MOG2) Apply(frame *models.Frame) (*models.Frame, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rgba, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC4, frame.Pix)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap frame: %w", err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)

	mask := gocv.NewMat()
	defer mask.Close()
	m.model.Apply(bgr, &mask)

	if mask.Empty() {
		return nil, fmt.Errorf("empty foreground mask")
	}

	fg := mask.ToBytes()
	if len(fg) != frame.Width*frame.Height {
		return nil, fmt.Errorf("mask has %d bytes, want %d", len(fg), frame.Width*frame.Height)
	}

	out := frame.Clone()
	for i, v := range fg {
		// 255 foreground, 127 shadow, 0 background
		if v != 255 {
			p := i * models.BytesPerPixel
			out.Pix[p] = 0
			out.Pix[p+1] = 0
			out.Pix[p+2] = 0
		}
	}

	return out, nil
}

// Close releases the OpenCV model
func (m *MOG2) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model.Close()
}
