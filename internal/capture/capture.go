// Package capture runs the publish side of the pipeline: each tick reads the
// video source into a fixed-size working frame, runs the frame processor,
// encodes the result and hands it to the publish connection.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/time/rate"

	"edgecast/internal/metrics"
	"edgecast/internal/muxer"
	"edgecast/internal/source"
	"edgecast/internal/vision"
	"edgecast/pkg/models"
)

// DefaultRefreshRate caps the tick rate when none is configured
const DefaultRefreshRate = 60

// State represents the capture loop lifecycle
type State string

const (
	StateIdle    State = "idle"
	StateArmed   State = "armed"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

var (
	ErrNotArmed       = errors.New("capture loop not armed")
	ErrAlreadyRunning = errors.New("capture loop already running")
	ErrStopped        = errors.New("capture loop stopped")
)

// Publisher accepts encoded envelopes. It must not block.
type Publisher interface {
	Publish(payload []byte) error
}

// Preview receives every processed frame before it is encoded
type Preview interface {
	Paint(img image.Image)
}

// Options configures the loop
type Options struct {
	Width       int     // Working buffer width, fixed for the session
	Height      int     // Working buffer height, fixed for the session
	RefreshRate float64 // Upper bound on ticks per second
}

// Stats counts frames through the loop
type Stats struct {
	State    State  `json:"state"`
	Captured uint64 `json:"captured"`
	Sent     uint64 `json:"sent"`
	Dropped  uint64 `json:"dropped"`
}

// Loop is the capture loop
type Loop struct {
	source    source.VideoSource
	processor *vision.Processor
	publisher Publisher
	preview   Preview
	metrics   *metrics.Metrics
	log       *logrus.Entry

	limiter *rate.Limiter
	work    *models.Frame

	state State
	stats Stats
	mu    sync.Mutex
}

// New creates a capture loop in the Idle state. preview may be nil.
func New(src source.VideoSource, proc *vision.Processor, pub Publisher, preview Preview, m *metrics.Metrics, log *logrus.Entry, opts Options) *Loop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = DefaultRefreshRate
	}

	return &Loop{
		source:    src,
		processor: proc,
		publisher: pub,
		preview:   preview,
		metrics:   m,
		log:       log.WithField("component", "capture"),
		limiter:   rate.NewLimiter(rate.Limit(opts.RefreshRate), 1),
		work:      models.NewFrame(opts.Width, opts.Height),
		state:     StateIdle,
	}
}

// Arm moves an idle loop to Armed. Arming an armed or running loop is a no-op.
func (l *Loop) Arm() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateIdle:
		l.state = StateArmed
		l.log.Info("Capture armed")
	case StateStopped:
		return ErrStopped
	}
	return nil
}

// Run ticks until ctx is cancelled, then moves the loop to Stopped. Each tick
// starts as soon as the previous one finished, but never faster than the
// refresh rate.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateIdle:
		l.mu.Unlock()
		return ErrNotArmed
	case StateRunning:
		l.mu.Unlock()
		return ErrAlreadyRunning
	case StateStopped:
		l.mu.Unlock()
		return ErrStopped
	}
	l.state = StateRunning
	l.mu.Unlock()

	l.log.WithFields(logrus.Fields{
		"width":        l.work.Width,
		"height":       l.work.Height,
		"refresh_rate": float64(l.limiter.Limit()),
	}).Info("Capture loop started")

	defer func() {
		l.mu.Lock()
		l.state = StateStopped
		l.mu.Unlock()
		l.log.Info("Capture loop stopped")
	}()

	for {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := l.Tick(ctx); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

// Tick runs one capture pass. A frame that cannot be delivered is dropped,
// never queued, and the reason is returned.
func (l *Loop) Tick(ctx context.Context) error {
	start := time.Now()

	img, err := l.source.Read(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.drop("source")
			l.log.WithError(err).Warn("Failed to read video source")
		}
		return fmt.Errorf("read source: %w", err)
	}
	l.count(func(s *Stats) { s.Captured++ })
	l.metrics.RecordFrameCaptured()

	// Stretch into the working buffer; aspect ratio is not preserved
	dst := l.work.RGBA()
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	if err := l.processor.Process(l.work); err != nil {
		l.drop("process")
		l.log.WithError(err).Warn("Failed to process frame")
		return fmt.Errorf("process frame: %w", err)
	}

	if l.preview != nil {
		l.preview.Paint(dst)
	}

	encoded, err := muxer.EncodeFrame(l.work)
	if err != nil {
		l.drop("encode")
		l.log.WithError(err).Warn("Failed to encode frame")
		return fmt.Errorf("encode frame: %w", err)
	}
	payload, err := muxer.VideoEnvelope(encoded)
	if err != nil {
		l.drop("encode")
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := l.publisher.Publish(payload); err != nil {
		reason := "not_open"
		if errors.Is(err, models.ErrSendBufferFull) {
			reason = "buffer_full"
		}
		l.drop(reason)
		l.log.WithError(err).Debug("Frame dropped")
		return err
	}

	l.count(func(s *Stats) { s.Sent++ })
	l.metrics.RecordFrameSent(len(payload), time.Since(start).Seconds())
	return nil
}

// State returns the lifecycle state
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Stats returns a snapshot of the counters
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.State = l.state
	return s
}

func (l *Loop) drop(reason string) {
	l.count(func(s *Stats) { s.Dropped++ })
	l.metrics.RecordFrameDropped(reason)
}

func (l *Loop) count(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}
