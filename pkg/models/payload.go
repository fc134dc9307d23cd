package models

import "time"

// PayloadKind identifies which field of an Envelope is populated
type PayloadKind string

const (
	KindVideo PayloadKind = "video"
	KindAudio PayloadKind = "audio"
)

// Envelope is the wire message: exactly one of Video or Audio is set.
// Video carries a base64 PNG, Audio a base64 WebM clip.
type Envelope struct {
	Video string `json:"video,omitempty"`
	Audio string `json:"audio,omitempty"`
}

// Kind reports which payload the envelope carries
func (e Envelope) Kind() PayloadKind {
	if e.Video != "" {
		return KindVideo
	}
	return KindAudio
}

// AudioFormat describes interleaved signed 16-bit little-endian PCM
type AudioFormat struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of the format
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playback length of n PCM bytes
func (f AudioFormat) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Chunk is one fixed-duration slice of captured audio
type Chunk struct {
	Sequence  uint64        // Chunk sequence number (local only, never sent)
	Format    AudioFormat   // PCM format of Samples
	Samples   []byte        // Raw PCM bytes
	Duration  time.Duration // Duration of Samples
	CreatedAt time.Time     // When the chunk was finalized
}
