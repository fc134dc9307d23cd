// Package pipeline owns every component of a running edgecast session and
// their lifecycle: the channel manager, the capture and render loops, the
// audio segmenter and the two canvases.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"edgecast/internal/auth"
	"edgecast/internal/capture"
	"edgecast/internal/metrics"
	"edgecast/internal/render"
	"edgecast/internal/segmenter"
	"edgecast/internal/source"
	"edgecast/internal/streammanager"
	"edgecast/internal/transport"
	"edgecast/internal/vision"
	"edgecast/pkg/models"
)

// Options configures a pipeline
type Options struct {
	Owner               string
	StreamName          string
	PublishCredential   string
	SubscribeCredential string

	FrameWidth   int
	FrameHeight  int
	CanvasWidth  int
	CanvasHeight int
	RefreshRate  float64

	Overlay               models.RGB
	RenderReprocess       bool
	BackgroundSubtraction bool
	MOG2                  vision.MOG2Config

	ReconnectDelay     time.Duration
	AudioChunkDuration time.Duration

	MaxPayloadBytes int
	MaxImagePixels  int
	SendBuffer      int
	ReceiveBuffer   int
	DecodeWorkers   int64
}

// Status is a snapshot of the whole pipeline
type Status struct {
	Connections []models.ConnectionInfo `json:"connections"`
	Capture     capture.Stats           `json:"capture"`
	Render      render.Stats            `json:"render"`
	Audio       *AudioStatus            `json:"audio,omitempty"`
}

// AudioStatus describes the audio segmenter
type AudioStatus struct {
	Buffered int                   `json:"buffered"`
	Recent   []segmenter.ChunkInfo `json:"recent"`
}

// Pipeline is the session context object
type Pipeline struct {
	log     *logrus.Entry
	metrics *metrics.Metrics

	auth      *auth.Manager
	channels  *streammanager.Manager
	capture   *capture.Loop
	render    *render.Loop
	segmenter *segmenter.Segmenter
	local     *render.Canvas
	remote    *render.Canvas

	video source.VideoSource
	audio source.AudioSource
	mog2  *vision.MOG2

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started   bool
	capturing bool
	closed    bool
	mu        sync.Mutex
}

// New wires a pipeline. audio may be nil to publish video only.
func New(dialer transport.Dialer, video source.VideoSource, audio source.AudioSource, clk clock.WithTicker, m *metrics.Metrics, log *logrus.Entry, opts Options) (*Pipeline, error) {
	if dialer == nil || video == nil {
		return nil, fmt.Errorf("pipeline needs a dialer and a video source")
	}
	if opts.FrameWidth <= 0 || opts.FrameHeight <= 0 || opts.CanvasWidth <= 0 || opts.CanvasHeight <= 0 {
		return nil, fmt.Errorf("invalid frame %dx%d or canvas %dx%d size",
			opts.FrameWidth, opts.FrameHeight, opts.CanvasWidth, opts.CanvasHeight)
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	p := &Pipeline{
		log:     log.WithField("component", "pipeline"),
		metrics: m,
		video:   video,
		audio:   audio,
		local:   render.NewCanvas(opts.FrameWidth, opts.FrameHeight),
		remote:  render.NewCanvas(opts.CanvasWidth, opts.CanvasHeight),
	}

	p.auth = auth.New(opts.Owner, opts.StreamName)
	p.auth.SetCredential(models.DirectionPublish, opts.PublishCredential)
	p.auth.SetCredential(models.DirectionSubscribe, opts.SubscribeCredential)

	p.channels = streammanager.New(dialer, p.auth, clk, m, log, streammanager.Options{
		ReconnectDelay: opts.ReconnectDelay,
		SendBuffer:     opts.SendBuffer,
		ReceiveBuffer:  opts.ReceiveBuffer,
	})

	var pre vision.Subtractor
	if opts.BackgroundSubtraction && !vision.MOG2Available() {
		p.log.Warn("Background subtraction needs OpenCV support; continuing without it")
	} else if opts.BackgroundSubtraction {
		p.mog2 = vision.NewMOG2(opts.MOG2)
		pre = vision.Guard(p.mog2, log.WithField("component", "vision"), m.RecordSubtractorFailure)
	}

	p.capture = capture.New(video, vision.NewProcessor(opts.Overlay, pre), p.channels, p.local, m, log, capture.Options{
		Width:       opts.FrameWidth,
		Height:      opts.FrameHeight,
		RefreshRate: opts.RefreshRate,
	})

	// Received frames get their own processor; the background model is
	// only trained on local frames
	p.render = render.New(p.channels.Messages(), p.remote, render.NewLogSink(log), vision.NewProcessor(opts.Overlay, nil), m, log, render.Options{
		DecodeWorkers:   opts.DecodeWorkers,
		MaxPayloadBytes: opts.MaxPayloadBytes,
		MaxImagePixels:  opts.MaxImagePixels,
		Reprocess:       opts.RenderReprocess,
	})

	if audio != nil {
		p.segmenter = segmenter.New(audio, p.channels, clk, m, log, opts.AudioChunkDuration)
	}

	return p, nil
}

// Start runs the render loop. Nothing is published or subscribed until
// StartPublishing or StartSubscribing is called.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return models.ErrClosed
	}
	if p.started {
		return nil
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.goRun("render", p.render.Run)

	p.log.Info("Pipeline started")
	return nil
}

// StartPublishing validates selector and attaches the publish connection to
// the selected stream. The first call arms and starts capture.
func (p *Pipeline) StartPublishing(selector string) (string, error) {
	return p.attach(models.DirectionPublish, selector)
}

// StartSubscribing validates selector and attaches the subscribe connection
// to the selected stream
func (p *Pipeline) StartSubscribing(selector string) (string, error) {
	return p.attach(models.DirectionSubscribe, selector)
}

func (p *Pipeline) attach(dir models.Direction, selector string) (string, error) {
	// Validation happens before any connection is constructed
	streamID, err := p.auth.StreamID(selector)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return "", models.ErrClosed
	}
	if !p.started {
		return "", fmt.Errorf("pipeline not started")
	}

	if err := p.channels.Open(dir, streamID); err != nil {
		return "", fmt.Errorf("failed to open %s connection: %w", dir, err)
	}
	p.log.WithFields(logrus.Fields{"direction": dir, "stream": streamID}).Info("Stream selected")

	if dir == models.DirectionPublish && !p.capturing {
		p.capturing = true
		if err := p.capture.Arm(); err != nil {
			return "", err
		}
		p.goRun("capture", p.capture.Run)
		if p.segmenter != nil {
			p.goRun("segmenter", p.segmenter.Run)
		}
	}

	return streamID, nil
}

// Stop closes the connection for dir. Capture keeps running and drops frames
// until a publish stream is selected again.
func (p *Pipeline) Stop(dir models.Direction) error {
	return p.channels.Close(dir)
}

// Status returns a snapshot of the pipeline
func (p *Pipeline) Status() Status {
	s := Status{
		Connections: p.channels.Info(),
		Capture:     p.capture.Stats(),
		Render:      p.render.Stats(),
	}
	if p.segmenter != nil {
		s.Audio = &AudioStatus{
			Buffered: p.segmenter.Buffered(),
			Recent:   p.segmenter.Recent(),
		}
	}
	return s
}

// LocalCanvas holds the last processed frame that was captured
func (p *Pipeline) LocalCanvas() *render.Canvas {
	return p.local
}

// RemoteCanvas holds the last frame received
func (p *Pipeline) RemoteCanvas() *render.Canvas {
	return p.remote
}

// Close cancels pending capture ticks, closes every connection and releases
// the sources
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.channels.Shutdown()

	if err := p.video.Close(); err != nil {
		p.log.WithError(err).Warn("Failed to close video source")
	}
	if p.audio != nil {
		if err := p.audio.Close(); err != nil {
			p.log.WithError(err).Warn("Failed to close audio source")
		}
	}
	if p.mog2 != nil {
		p.mog2.Close()
	}

	p.log.Info("Pipeline closed")
	return nil
}

func (p *Pipeline) goRun(name string, run func(context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := run(p.ctx); err != nil {
			p.log.WithError(err).WithField("loop", name).Error("Loop exited")
		}
	}()
}
