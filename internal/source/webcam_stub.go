//go:build !gocv

package source

import (
	"context"
	"errors"
	"image"
)

// ErrNoDevice is returned when the binary was built without OpenCV support
var ErrNoDevice = errors.New("video devices require building with the gocv tag")

// Webcam is unavailable without OpenCV
type Webcam struct{}

// OpenWebcam always fails without OpenCV
func OpenWebcam(id int) (*Webcam, error) {
	return nil, ErrNoDevice
}

// Read always fails without OpenCV
func (w *Webcam) Read(ctx context.Context) (image.Image, error) {
	return nil, ErrNoDevice
}

// Close is a no-op
func (w *Webcam) Close() error {
	return nil
}
