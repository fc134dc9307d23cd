package segmenter

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"edgecast/internal/metrics"
	"edgecast/internal/muxer"
	"edgecast/pkg/models"
)

var testFormat = models.AudioFormat{SampleRate: 8000, Channels: 1}

// feedSource returns whatever blocks the test pushes
type feedSource struct {
	blocks chan []byte
	errs   chan error
}

func newFeedSource() *feedSource {
	return &feedSource{blocks: make(chan []byte), errs: make(chan error, 1)}
}

func (s *feedSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-s.errs:
		return nil, err
	case b := <-s.blocks:
		return b, nil
	}
}

func (s *feedSource) Format() models.AudioFormat { return testFormat }
func (s *feedSource) Close() error               { return nil }

// gatedPublisher records payloads; while gate is non-nil Publish waits on it
type gatedPublisher struct {
	mu       sync.Mutex
	gate     chan struct{}
	err      error
	payloads [][]byte
}

func (p *gatedPublisher) Publish(payload []byte) error {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *gatedPublisher) sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.payloads...)
}

type harness struct {
	seg    *Segmenter
	src    *feedSource
	pub    *gatedPublisher
	clock  *testingclock.FakeClock
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, pub *gatedPublisher) *harness {
	t.Helper()

	logger, _ := test.NewNullLogger()
	h := &harness{
		src:   newFeedSource(),
		pub:   pub,
		clock: testingclock.NewFakeClock(time.Now()),
		done:  make(chan error, 1),
	}
	h.seg = New(h.src, pub, h.clock, metrics.New(prometheus.NewRegistry()), logrus.NewEntry(logger), DefaultChunkDuration)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.seg.Run(ctx) }()

	// Run is ticking once the ticker is registered
	require.Eventually(t, h.clock.HasWaiters, time.Second, time.Millisecond)

	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) feed(t *testing.T, blocks ...[]byte) {
	t.Helper()
	want := h.seg.Buffered()
	for _, b := range blocks {
		h.src.blocks <- b
		want += len(b)
	}
	require.Eventually(t, func() bool { return h.seg.Buffered() == want }, time.Second, time.Millisecond)
}

func decodePCM(t *testing.T, payload []byte) []byte {
	t.Helper()
	env, err := muxer.DecodeEnvelope(payload, 1<<20)
	require.NoError(t, err)
	require.Equal(t, models.KindAudio, env.Kind())
	clip, err := muxer.DecodeClipBase64(env.Audio)
	require.NoError(t, err)
	assert.Equal(t, testFormat, clip.Format)
	return clip.PCM
}

func block(v byte, n int) []byte {
	return bytes.Repeat([]byte{v}, n)
}

func TestChunkSwapAndReset(t *testing.T) {
	h := start(t, &gatedPublisher{})

	h.feed(t, block(1, 320), block(2, 320), block(3, 320))

	// Nothing is sent before the interval elapses
	h.clock.Step(DefaultChunkDuration - time.Second)
	assert.Never(t, func() bool { return len(h.pub.sent()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	h.clock.Step(time.Second)
	require.Eventually(t, func() bool { return len(h.pub.sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, h.seg.Buffered())

	first := decodePCM(t, h.pub.sent()[0])
	assert.Equal(t, append(append(block(1, 320), block(2, 320)...), block(3, 320)...), first)

	// The next chunk only holds what arrived after the swap
	h.feed(t, block(4, 160))
	h.clock.Step(DefaultChunkDuration)
	require.Eventually(t, func() bool { return len(h.pub.sent()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, block(4, 160), decodePCM(t, h.pub.sent()[1]))

	recent := h.seg.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(0), recent[0].Sequence)
	assert.True(t, recent[0].Sent)
	assert.Equal(t, 60*time.Millisecond, recent[0].Duration)
}

func TestEmptyIntervalSendsNothing(t *testing.T) {
	h := start(t, &gatedPublisher{})

	h.clock.Step(DefaultChunkDuration)
	h.clock.Step(DefaultChunkDuration)
	assert.Never(t, func() bool { return len(h.pub.sent()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, h.seg.Recent())
}

func TestAccumulationContinuesDuringSend(t *testing.T) {
	gate := make(chan struct{})
	pub := &gatedPublisher{gate: gate}
	h := start(t, pub)

	h.feed(t, block(1, 320))
	h.clock.Step(DefaultChunkDuration)

	// Chunk 0 is stuck in Publish; chunk 1 still accumulates
	h.feed(t, block(2, 320), block(3, 320))
	assert.Equal(t, 640, h.seg.Buffered())
	assert.Empty(t, pub.sent())

	close(gate)
	require.Eventually(t, func() bool { return len(pub.sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, block(1, 320), decodePCM(t, pub.sent()[0]))
}

func TestChunkDroppedWhenNotOpen(t *testing.T) {
	h := start(t, &gatedPublisher{err: models.ErrNotOpen})

	h.feed(t, block(1, 320))
	h.clock.Step(DefaultChunkDuration)

	require.Eventually(t, func() bool { return len(h.seg.Recent()) == 1 }, time.Second, time.Millisecond)
	info := h.seg.Recent()[0]
	assert.False(t, info.Sent)
	assert.NotZero(t, info.Bytes)
}

func TestSourceFailureEndsRun(t *testing.T) {
	h := start(t, &gatedPublisher{})

	errMic := errors.New("microphone unplugged")
	h.src.errs <- errMic

	select {
	case err := <-h.done:
		assert.ErrorIs(t, err, errMic)
		h.done <- nil // let cleanup finish
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
