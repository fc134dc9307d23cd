//go:build gocv

package source

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Webcam reads frames from a local capture device through OpenCV
type Webcam struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
	mu      sync.Mutex
}

// OpenWebcam opens capture device id
func OpenWebcam(id int) (*Webcam, error) {
	capture, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("failed to open video device %d: %w", id, err)
	}
	return &Webcam{capture: capture, mat: gocv.NewMat()}, nil
}

// Read grabs the next frame from the device
func (w *Webcam) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if ok := w.capture.Read(&w.mat); !ok || w.mat.Empty() {
		return nil, fmt.Errorf("failed to read frame from video device")
	}

	img, err := w.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	return img, nil
}

// Close releases the device
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.mat.Close()
	return w.capture.Close()
}
