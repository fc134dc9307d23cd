package segmenter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"edgecast/internal/metrics"
	"edgecast/internal/muxer"
	"edgecast/internal/source"
	"edgecast/pkg/models"
)

const (
	// DefaultChunkDuration is the length of each audio chunk
	DefaultChunkDuration = 5 * time.Second

	// recentChunks is how many finalized chunks are kept for status
	recentChunks = 10
)

// Publisher accepts encoded envelopes. It must not block.
type Publisher interface {
	Publish(payload []byte) error
}

// ChunkInfo describes a finalized chunk
type ChunkInfo struct {
	Sequence  uint64        `json:"sequence"`
	Duration  time.Duration `json:"duration"`
	Bytes     int           `json:"bytes"`
	Sent      bool          `json:"sent"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Segmenter cuts a continuous audio capture into fixed-duration chunks and
// publishes each one as an independent clip
type Segmenter struct {
	source    source.AudioSource
	publisher Publisher
	clock     clock.WithTicker
	metrics   *metrics.Metrics
	log       *logrus.Entry

	chunkDuration time.Duration

	sequence uint64
	current  *chunkBuffer
	recent   []ChunkInfo
	mu       sync.Mutex

	// In-flight encode and send goroutines
	sends sync.WaitGroup
}

// chunkBuffer accumulates the PCM of one chunk. It is swapped out, never
// cleared, when the chunk is finalized.
type chunkBuffer struct {
	samples   []byte
	startTime time.Time
}

// New creates a segmenter
func New(src source.AudioSource, pub Publisher, clk clock.WithTicker, m *metrics.Metrics, log *logrus.Entry, chunkDuration time.Duration) *Segmenter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if chunkDuration <= 0 {
		chunkDuration = DefaultChunkDuration
	}

	return &Segmenter{
		source:        src,
		publisher:     pub,
		clock:         clk,
		metrics:       m,
		log:           log.WithField("component", "segmenter"),
		chunkDuration: chunkDuration,
		current:       newChunkBuffer(clk.Now()),
	}
}

func newChunkBuffer(now time.Time) *chunkBuffer {
	return &chunkBuffer{
		samples:   make([]byte, 0),
		startTime: now,
	}
}

// Run captures audio until ctx is cancelled or the source fails. The chunk
// being accumulated at that point is discarded.
func (s *Segmenter) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.sends.Wait()
	}()

	blocks := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go s.readBlocks(ctx, blocks, readErr)

	ticker := s.clock.NewTicker(s.chunkDuration)
	defer ticker.Stop()

	s.mu.Lock()
	s.current = newChunkBuffer(s.clock.Now())
	s.mu.Unlock()

	format := s.source.Format()
	s.log.WithFields(logrus.Fields{
		"chunk_duration": s.chunkDuration,
		"sample_rate":    format.SampleRate,
		"channels":       format.Channels,
	}).Info("Audio capture started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Audio capture stopped")
			return nil

		case block, ok := <-blocks:
			if !ok {
				err := <-readErr
				if ctx.Err() != nil {
					return nil
				}
				s.log.WithError(err).Warn("Audio source failed")
				return fmt.Errorf("read audio: %w", err)
			}
			s.addBlock(block)

		case <-ticker.C():
			s.finalizeChunk(ctx)
		}
	}
}

// Buffered returns the size of the chunk currently being accumulated
func (s *Segmenter) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current.samples)
}

// Recent returns the most recently finalized chunks in the order their sends completed
func (s *Segmenter) Recent() []ChunkInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChunkInfo(nil), s.recent...)
}

// readBlocks pumps the source into blocks until ctx ends or the source fails
func (s *Segmenter) readBlocks(ctx context.Context, blocks chan<- []byte, readErr chan<- error) {
	defer close(blocks)

	for {
		block, err := s.source.Read(ctx)
		if err != nil {
			readErr <- err
			return
		}
		select {
		case blocks <- block:
		case <-ctx.Done():
			readErr <- ctx.Err()
			return
		}
	}
}

// addBlock appends PCM to the current chunk
func (s *Segmenter) addBlock(block []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.samples = append(s.current.samples, block...)
}

// finalizeChunk swaps in a fresh buffer and sends the old one in the background
func (s *Segmenter) finalizeChunk(ctx context.Context) {
	now := s.clock.Now()

	s.mu.Lock()
	buf := s.current
	s.current = newChunkBuffer(now)
	if len(buf.samples) == 0 {
		s.mu.Unlock()
		s.log.Debug("No audio captured in interval, skipping chunk")
		return
	}
	seq := s.sequence
	s.sequence++
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"seq":      seq,
		"interval": now.Sub(buf.startTime),
		"bytes":    len(buf.samples),
	}).Debug("Finalized audio chunk")

	format := s.source.Format()
	chunk := &models.Chunk{
		Sequence:  seq,
		Format:    format,
		Samples:   buf.samples,
		Duration:  format.Duration(len(buf.samples)),
		CreatedAt: now,
	}

	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		s.send(ctx, chunk)
	}()
}

// send encodes and publishes one chunk
func (s *Segmenter) send(ctx context.Context, chunk *models.Chunk) {
	log := s.log.WithField("seq", chunk.Sequence)
	info := ChunkInfo{
		Sequence:  chunk.Sequence,
		Duration:  chunk.Duration,
		CreatedAt: chunk.CreatedAt,
	}
	defer s.remember(&info)

	encoded, err := muxer.EncodeClipBase64(chunk)
	if err != nil {
		s.metrics.RecordChunkDropped()
		log.WithError(err).Warn("Failed to encode audio chunk")
		return
	}
	payload, err := muxer.AudioEnvelope(encoded)
	if err != nil {
		s.metrics.RecordChunkDropped()
		log.WithError(err).Warn("Failed to encode audio envelope")
		return
	}
	info.Bytes = len(payload)

	if ctx.Err() != nil {
		s.metrics.RecordChunkDropped()
		return
	}

	if err := s.publisher.Publish(payload); err != nil {
		s.metrics.RecordChunkDropped()
		if errors.Is(err, models.ErrNotOpen) {
			log.Debug("Publish connection not open, dropping audio chunk")
		} else {
			log.WithError(err).Warn("Failed to send audio chunk")
		}
		return
	}

	info.Sent = true
	s.metrics.RecordChunkSent(len(payload))
	log.WithFields(logrus.Fields{
		"duration": chunk.Duration,
		"kb":       fmt.Sprintf("%.2f", float64(len(payload))/1024),
	}).Debug("Sent audio chunk")
}

// remember keeps a sliding window of finalized chunks
func (s *Segmenter) remember(info *ChunkInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, *info)
	if len(s.recent) > recentChunks {
		s.recent = s.recent[1:]
	}
}
