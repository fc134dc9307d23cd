// Package render runs the subscribe side of the pipeline. It is driven by
// message arrival: payloads are decoded in the background and each result is
// applied as soon as it resolves, so the last decode to finish wins the
// canvas.
package render

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"edgecast/internal/metrics"
	"edgecast/internal/muxer"
	"edgecast/internal/vision"
	"edgecast/pkg/models"
)

const (
	DefaultDecodeWorkers   = 2
	DefaultMaxPayloadBytes = 4 << 20
)

// Options configures the render loop
type Options struct {
	DecodeWorkers   int64 // Concurrent video decodes; frames beyond this are dropped
	MaxPayloadBytes int
	MaxImagePixels  int
	Reprocess       bool // Re-run edge detection on received frames
}

// Stats counts messages through the loop
type Stats struct {
	Received  uint64 `json:"received"`
	Rendered  uint64 `json:"rendered"`
	Clips     uint64 `json:"clips"`
	Malformed uint64 `json:"malformed"`
	Dropped   uint64 `json:"dropped"`
}

type decoded struct {
	kind  models.PayloadKind
	image image.Image
	clip  *muxer.Clip
	err   error
}

// Loop is the render loop
type Loop struct {
	messages  <-chan []byte
	canvas    *Canvas
	sink      AudioSink
	processor *vision.Processor
	metrics   *metrics.Metrics
	log       *logrus.Entry
	opts      Options

	decodeVideo func(string) (image.Image, error)
	decodes     *semaphore.Weighted
	results     chan decoded
	wg      sync.WaitGroup

	stats Stats
	mu    sync.Mutex
}

// New creates a render loop reading messages. processor is only used when
// opts.Reprocess is set; sink may be nil to ignore audio.
func New(messages <-chan []byte, canvas *Canvas, sink AudioSink, proc *vision.Processor, m *metrics.Metrics, log *logrus.Entry, opts Options) *Loop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.DecodeWorkers <= 0 {
		opts.DecodeWorkers = DefaultDecodeWorkers
	}
	if opts.MaxPayloadBytes <= 0 {
		opts.MaxPayloadBytes = DefaultMaxPayloadBytes
	}

	l := &Loop{
		messages:  messages,
		canvas:    canvas,
		sink:      sink,
		processor: proc,
		metrics:   m,
		log:       log.WithField("component", "render"),
		opts:      opts,
		decodes:   semaphore.NewWeighted(opts.DecodeWorkers),
		results:   make(chan decoded, opts.DecodeWorkers),
	}
	l.decodeVideo = func(s string) (image.Image, error) {
		return muxer.DecodeImage(s, l.opts.MaxImagePixels)
	}
	return l
}

// Run consumes messages until ctx is cancelled or the message channel closes
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		l.wg.Wait()
	}()

	l.log.Info("Render loop started")
	defer l.log.Info("Render loop stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-l.messages:
			if !ok {
				return nil
			}
			l.receive(ctx, data)
		case res := <-l.results:
			l.apply(ctx, res)
		}
	}
}

// Stats returns a snapshot of the counters
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Loop) receive(ctx context.Context, data []byte) {
	l.count(func(s *Stats) { s.Received++ })

	env, err := muxer.DecodeEnvelope(data, l.opts.MaxPayloadBytes)
	if err != nil {
		l.malformed("envelope", err)
		return
	}
	kind := env.Kind()
	l.metrics.RecordMessage(kind)

	// Frames are shed when the decoders are busy; audio clips always decode
	if kind == models.KindVideo && !l.decodes.TryAcquire(1) {
		l.count(func(s *Stats) { s.Dropped++ })
		l.metrics.RecordMessageDropped()
		l.log.Debug("Decoders busy, dropping frame")
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if kind == models.KindVideo {
			defer l.decodes.Release(1)
		}

		res := decoded{kind: kind}
		switch kind {
		case models.KindVideo:
			res.image, res.err = l.decodeVideo(env.Video)
		case models.KindAudio:
			res.clip, res.err = muxer.DecodeClipBase64(env.Audio)
		}

		select {
		case l.results <- res:
		case <-ctx.Done():
		}
	}()
}

func (l *Loop) apply(ctx context.Context, res decoded) {
	if res.err != nil {
		l.malformed(string(res.kind), res.err)
		return
	}

	switch res.kind {
	case models.KindVideo:
		l.render(res.image)
	case models.KindAudio:
		if l.sink == nil {
			return
		}
		if err := l.sink.Play(ctx, res.clip); err != nil {
			l.log.WithError(err).Warn("Audio playback failed")
			return
		}
		l.count(func(s *Stats) { s.Clips++ })
		l.metrics.RecordClipPlayed()
	}
}

func (l *Loop) render(img image.Image) {
	if !l.opts.Reprocess || l.processor == nil {
		l.canvas.Paint(img)
	} else {
		w, h := l.canvas.Size()
		frame := Stretch(img, w, h)
		if err := l.processor.Process(frame); err != nil {
			l.log.WithError(err).Warn("Failed to reprocess received frame")
			return
		}
		l.canvas.Paint(frame.RGBA())
	}

	l.count(func(s *Stats) { s.Rendered++ })
	l.metrics.RecordFrameRendered()
}

func (l *Loop) malformed(kind string, err error) {
	l.count(func(s *Stats) { s.Malformed++ })
	l.metrics.RecordDecodeError(kind)
	l.log.WithError(fmt.Errorf("%s: %w", kind, err)).Warn("Discarding malformed message")
}

func (l *Loop) count(fn func(*Stats)) {
	l.mu.Lock()
	fn(&l.stats)
	l.mu.Unlock()
}
