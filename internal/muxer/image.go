// Package muxer encodes pipeline payloads for the wire: processed frames as
// base64 PNG, audio chunks as WebM clips, both wrapped in a JSON envelope.
package muxer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"edgecast/pkg/models"
)

// DefaultMaxImagePixels bounds the declared size of a decoded image (4K UHD)
const DefaultMaxImagePixels = 3840 * 2160

var encoder = &png.Encoder{
	CompressionLevel: png.BestSpeed,
	BufferPool:       &bufferPool{},
}

// bufferPool recycles the PNG encoder's scratch buffers across frames
type bufferPool struct {
	pool sync.Pool
}

func (p *bufferPool) Get() *png.EncoderBuffer {
	b, _ := p.pool.Get().(*png.EncoderBuffer)
	return b
}

func (p *bufferPool) Put(b *png.EncoderBuffer) {
	p.pool.Put(b)
}

// EncodeFrame encodes a frame as a base64 PNG string
func EncodeFrame(f *models.Frame) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := encoder.Encode(&buf, f.RGBA()); err != nil {
		return "", fmt.Errorf("failed to encode png: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeImage decodes a base64 PNG string. A data URL prefix is tolerated.
// Images whose header declares more than maxPixels pixels are rejected before
// any pixel memory is allocated; maxPixels <= 0 means DefaultMaxImagePixels.
func DecodeImage(s string, maxPixels int) (image.Image, error) {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxImagePixels
	}

	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: video is not base64: %v", models.ErrMalformedPayload, err)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: video is not a png: %v", models.ErrMalformedPayload, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > maxPixels/cfg.Height {
		return nil, fmt.Errorf("%w: video is %dx%d, limit is %d pixels", models.ErrMalformedPayload, cfg.Width, cfg.Height, maxPixels)
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: video is not a png: %v", models.ErrMalformedPayload, err)
	}

	return img, nil
}
