package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgecast/internal/metrics"
	"edgecast/internal/muxer"
	"edgecast/internal/vision"
	"edgecast/pkg/models"
)

type recordingSink struct {
	mu    sync.Mutex
	clips []*muxer.Clip
}

func (s *recordingSink) Play(ctx context.Context, clip *muxer.Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips = append(s.clips, clip)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clips)
}

func videoMessage(t *testing.T, f *models.Frame) []byte {
	msg, _ := encodedVideo(t, f)
	return msg
}

// encodedVideo returns the envelope for f and the base64 image inside it
func encodedVideo(t *testing.T, f *models.Frame) ([]byte, string) {
	t.Helper()
	encoded, err := muxer.EncodeFrame(f)
	require.NoError(t, err)
	msg, err := muxer.VideoEnvelope(encoded)
	require.NoError(t, err)
	return msg, encoded
}

func audioMessage(t *testing.T, format models.AudioFormat, samples []byte) []byte {
	t.Helper()
	encoded, err := muxer.EncodeClipBase64(&models.Chunk{Format: format, Samples: samples})
	require.NoError(t, err)
	msg, err := muxer.AudioEnvelope(encoded)
	require.NoError(t, err)
	return msg
}

func solidFrame(w, h int, c models.RGB) *models.Frame {
	f := models.NewFrame(w, h)
	f.Fill(c)
	return f
}

// gatedDecoder holds each video decode until its image is released
type gatedDecoder struct {
	gates map[string]chan struct{}
}

func gate(t *testing.T, l *Loop, images ...string) *gatedDecoder {
	t.Helper()
	g := &gatedDecoder{gates: make(map[string]chan struct{})}
	for _, img := range images {
		g.gates[img] = make(chan struct{})
	}
	l.decodeVideo = func(s string) (image.Image, error) {
		if ch, ok := g.gates[s]; ok {
			<-ch
		}
		return muxer.DecodeImage(s, 0)
	}
	t.Cleanup(func() {
		for _, ch := range g.gates {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
	})
	return g
}

func (g *gatedDecoder) release(img string) {
	close(g.gates[img])
}

func whiteFrame(w, h int) *models.Frame {
	f := models.NewFrame(w, h)
	f.Fill(models.RGB{R: 255, G: 255, B: 255})
	return f
}

type harness struct {
	loop     *Loop
	canvas   *Canvas
	sink     *recordingSink
	messages chan []byte
	done     chan error
	cancel   context.CancelFunc
}

func start(t *testing.T, opts Options) *harness {
	t.Helper()

	logger, _ := test.NewNullLogger()
	h := &harness{
		canvas:   NewCanvas(8, 6),
		sink:     &recordingSink{},
		messages: make(chan []byte, 8),
		done:     make(chan error, 1),
	}
	proc := vision.NewProcessor(models.RGB{R: 255}, nil)
	h.loop = New(h.messages, h.canvas, h.sink, proc, metrics.New(prometheus.NewRegistry()), logrus.NewEntry(logger), opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.loop.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) waitStats(t *testing.T, cond func(Stats) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.loop.Stats()) }, time.Second, time.Millisecond)
}

func TestRenderStretchesFrameOntoCanvas(t *testing.T) {
	h := start(t, Options{})

	h.messages <- videoMessage(t, whiteFrame(4, 4))
	h.waitStats(t, func(s Stats) bool { return s.Rendered == 1 })

	snap := h.canvas.Snapshot()
	assert.Equal(t, 8, snap.Width)
	assert.Equal(t, 6, snap.Height)
	for y := 0; y < snap.Height; y++ {
		for x := 0; x < snap.Width; x++ {
			assert.Equal(t, [4]byte{255, 255, 255, 255}, snap.At(x, y))
		}
	}
	assert.False(t, h.canvas.Updated().IsZero())
}

func TestRenderReprocess(t *testing.T) {
	h := start(t, Options{Reprocess: true})

	h.messages <- videoMessage(t, whiteFrame(4, 4))
	h.waitStats(t, func(s Stats) bool { return s.Rendered == 1 })

	// No gradient in a white frame, so edge detection blacks it out
	snap := h.canvas.Snapshot()
	for y := 0; y < snap.Height; y++ {
		for x := 0; x < snap.Width; x++ {
			assert.Equal(t, [4]byte{0, 0, 0, 255}, snap.At(x, y))
		}
	}
}

func TestRenderDiscardsMalformedAndContinues(t *testing.T) {
	h := start(t, Options{})

	h.messages <- []byte("not json")
	h.messages <- []byte(`{"video":"!!!not-base64"}`)
	h.messages <- []byte(`{"video":"a","audio":"b"}`)
	h.messages <- videoMessage(t, whiteFrame(2, 2))

	h.waitStats(t, func(s Stats) bool { return s.Malformed == 3 && s.Rendered == 1 })
	assert.Equal(t, uint64(4), h.loop.Stats().Received)
}

func TestRenderPlaysAudio(t *testing.T) {
	h := start(t, Options{})

	format := models.AudioFormat{SampleRate: 8000, Channels: 1}
	chunk := &models.Chunk{Format: format, Samples: make([]byte, format.BytesPerSecond()/10)}
	encoded, err := muxer.EncodeClipBase64(chunk)
	require.NoError(t, err)
	msg, err := muxer.AudioEnvelope(encoded)
	require.NoError(t, err)

	h.messages <- msg
	h.waitStats(t, func(s Stats) bool { return s.Clips == 1 })

	require.Equal(t, 1, h.sink.count())
	assert.Equal(t, format, h.sink.clips[0].Format)
	assert.Len(t, h.sink.clips[0].PCM, len(chunk.Samples))
}

func TestRenderPlaysAudioWhileDecodersBusy(t *testing.T) {
	h := start(t, Options{DecodeWorkers: 2})

	first, firstImg := encodedVideo(t, solidFrame(4, 4, models.RGB{R: 255}))
	second, secondImg := encodedVideo(t, solidFrame(4, 4, models.RGB{G: 255}))
	g := gate(t, h.loop, firstImg, secondImg)

	h.messages <- first
	h.messages <- second
	h.waitStats(t, func(s Stats) bool { return s.Received == 2 })

	format := models.AudioFormat{SampleRate: 8000, Channels: 1}
	h.messages <- audioMessage(t, format, make([]byte, 1600))
	h.waitStats(t, func(s Stats) bool { return s.Clips == 1 })
	assert.Equal(t, 1, h.sink.count())

	// A third frame is still shed
	h.messages <- videoMessage(t, whiteFrame(2, 2))
	h.waitStats(t, func(s Stats) bool { return s.Dropped == 1 })

	g.release(firstImg)
	g.release(secondImg)
	h.waitStats(t, func(s Stats) bool { return s.Rendered == 2 })
	assert.Equal(t, uint64(1), h.loop.Stats().Dropped)
}

func TestRenderLastDecodeToFinishWins(t *testing.T) {
	h := start(t, Options{DecodeWorkers: 2})

	red := models.RGB{R: 255}
	blue := models.RGB{B: 255}
	large, largeImg := encodedVideo(t, solidFrame(64, 48, red))
	small, smallImg := encodedVideo(t, solidFrame(2, 2, blue))
	g := gate(t, h.loop, largeImg, smallImg)

	// The large frame arrives first but finishes decoding last
	h.messages <- large
	h.messages <- small
	h.waitStats(t, func(s Stats) bool { return s.Received == 2 })

	g.release(smallImg)
	h.waitStats(t, func(s Stats) bool { return s.Rendered == 1 })
	assert.Equal(t, [4]byte{0, 0, 255, 255}, h.canvas.Snapshot().At(4, 3))

	g.release(largeImg)
	h.waitStats(t, func(s Stats) bool { return s.Rendered == 2 })
	assert.Equal(t, [4]byte{255, 0, 0, 255}, h.canvas.Snapshot().At(4, 3))
}

func TestRenderRejectsOversizedFrame(t *testing.T) {
	h := start(t, Options{MaxImagePixels: 16})

	h.messages <- videoMessage(t, whiteFrame(5, 4))
	h.messages <- videoMessage(t, whiteFrame(4, 4))

	h.waitStats(t, func(s Stats) bool { return s.Malformed == 1 && s.Rendered == 1 })
}

func TestRenderStopsWhenMessagesClose(t *testing.T) {
	logger, _ := test.NewNullLogger()
	messages := make(chan []byte)
	loop := New(messages, NewCanvas(4, 4), nil, nil, metrics.New(prometheus.NewRegistry()), logrus.NewEntry(logger), Options{})

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()
	close(messages)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("render loop did not stop")
	}
}

func TestCanvasPNGAndClear(t *testing.T) {
	c := NewCanvas(3, 2)
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 200, 100, 50, 255
	}
	c.Paint(src)

	data, err := c.PNG()
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
	assert.Equal(t, color.RGBA{200, 100, 50, 255}, color.RGBAModel.Convert(img.At(1, 1)))

	c.Clear()
	assert.Equal(t, [4]byte{}, c.Snapshot().At(2, 1))
}

func TestStretchIgnoresAspectRatio(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 2))
	f := Stretch(src, 4, 4)
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, 4, f.Height)
	assert.NoError(t, f.Validate())
}
