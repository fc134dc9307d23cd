package render

import (
	"context"

	"github.com/sirupsen/logrus"

	"edgecast/internal/muxer"
)

// AudioSink plays received audio clips. Play must not block for the length
// of the clip; it is called from the render loop.
type AudioSink interface {
	Play(ctx context.Context, clip *muxer.Clip) error
}

// LogSink is an AudioSink that only logs what it would play
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink creates a logging sink
func NewLogSink(log *logrus.Entry) *LogSink {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogSink{log: log.WithField("component", "audio_sink")}
}

// Play logs the clip
func (s *LogSink) Play(ctx context.Context, clip *muxer.Clip) error {
	s.log.WithFields(logrus.Fields{
		"duration":    clip.Duration(),
		"sample_rate": clip.Format.SampleRate,
		"channels":    clip.Format.Channels,
		"bytes":       len(clip.PCM),
	}).Info("Received audio clip")
	return nil
}
