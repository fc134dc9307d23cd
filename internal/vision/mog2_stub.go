//go:build !gocv

package vision

import (
	"errors"

	"edgecast/pkg/models"
)

// ErrNoOpenCV is returned when background subtraction is requested from a
// binary built without the gocv tag.
var ErrNoOpenCV = errors.New("background subtraction requires building with -tags gocv")

// MOG2Config configures the Gaussian-mixture background model
type MOG2Config struct {
	History       int
	VarThreshold  float64
	DetectShadows bool
}

// DefaultMOG2Config mirrors OpenCV's defaults
func DefaultMOG2Config() MOG2Config {
	return MOG2Config{History: 500, VarThreshold: 16, DetectShadows: true}
}

// MOG2Available reports whether this binary can run MOG2
func MOG2Available() bool { return false }

// MOG2 is unavailable without OpenCV; Apply always fails so the Guard passes frames through.
type MOG2 struct{}

// NewMOG2 returns a model whose Apply reports ErrNoOpenCV
func NewMOG2(cfg MOG2Config) *MOG2 {
	return &MOG2{}
}

// Apply always returns ErrNoOpenCV
func (m *MOG2) Apply(frame *models.Frame) (*models.Frame, error) {
	return nil, ErrNoOpenCV
}

// Close is a no-op
func (m *MOG2) Close() error {
	return nil
}
