package source

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"edgecast/pkg/models"
)

const (
	// DefaultToneFrequency is A4
	DefaultToneFrequency = 440.0

	// BlockDuration is how much audio each Read returns
	BlockDuration = 20 * time.Millisecond

	toneAmplitude = 0.25
)

// Tone is a synthetic audio source producing a sine wave in real time. Blocks
// are released by a ticker started on the first Read, so a slow reader does
// not stretch the stream.
type Tone struct {
	format    models.AudioFormat
	frequency float64
	clock     clock.WithTicker

	ticker clock.Ticker
	sample int64
	closed chan struct{}
	once   sync.Once
	mu     sync.Mutex
}

// NewTone creates a sine source at frequency Hz
func NewTone(format models.AudioFormat, frequency float64, clk clock.WithTicker) *Tone {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if frequency <= 0 {
		frequency = DefaultToneFrequency
	}
	return &Tone{
		format:    format,
		frequency: frequency,
		clock:     clk,
		closed:    make(chan struct{}),
	}
}

// Format returns the PCM layout of the blocks
func (t *Tone) Format() models.AudioFormat {
	return t.format
}

// Read waits for the next block tick and returns that block's samples
func (t *Tone) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.closed:
		return nil, models.ErrClosed
	case <-t.ticks():
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	frames := int(int64(t.format.SampleRate) * int64(BlockDuration) / int64(time.Second))
	channels := t.format.Channels
	if channels <= 0 {
		channels = 1
	}

	block := make([]byte, frames*channels*2)
	step := 2 * math.Pi * t.frequency / float64(t.format.SampleRate)
	for i := 0; i < frames; i++ {
		v := int16(toneAmplitude * math.MaxInt16 * math.Sin(step*float64(t.sample)))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(block[(i*channels+c)*2:], uint16(v))
		}
		t.sample++
	}

	return block, nil
}

func (t *Tone) ticks() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ticker == nil {
		select {
		case <-t.closed:
			return nil
		default:
		}
		t.ticker = t.clock.NewTicker(BlockDuration)
	}
	return t.ticker.C()
}

// Close unblocks pending reads
func (t *Tone) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.mu.Lock()
		if t.ticker != nil {
			t.ticker.Stop()
		}
		t.mu.Unlock()
	})
	return nil
}
