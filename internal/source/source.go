// Package source provides the raw media the pipeline publishes: a video
// source yielding whole frames and an audio source yielding PCM blocks.
package source

import (
	"context"
	"image"

	"edgecast/pkg/models"
)

// VideoSource yields the most recent frame each time Read is called
type VideoSource interface {
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

// AudioSource yields consecutive blocks of interleaved signed 16-bit little
// endian PCM. Read blocks until the next block has been captured.
type AudioSource interface {
	Read(ctx context.Context) ([]byte, error)
	Format() models.AudioFormat
	Close() error
}
