package muxer

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgecast/pkg/models"
)

func TestFrameRoundTrip(t *testing.T) {
	f := models.NewFrame(5, 3)
	for i := range f.Pix {
		f.Pix[i] = byte(i * 7)
	}
	for i := 3; i < len(f.Pix); i += 4 {
		f.Pix[i] = 255
	}

	b64, err := EncodeFrame(f)
	require.NoError(t, err)

	img, err := DecodeImage(b64, 0)
	require.NoError(t, err)

	got := models.FrameFromImage(img)
	assert.Equal(t, f.Width, got.Width)
	assert.Equal(t, f.Height, got.Height)
	assert.Equal(t, f.Pix, got.Pix)

	_, err = DecodeImage("data:image/png;base64," + b64, 0)
	require.NoError(t, err)
}

func TestEncodeFrameRejectsBadBuffer(t *testing.T) {
	_, err := EncodeFrame(&models.Frame{Width: 2, Height: 2, Pix: make([]byte, 3)})
	require.ErrorIs(t, err, models.ErrBufferSize)
}

func TestDecodeImageMalformed(t *testing.T) {
	for _, in := range []string{"!!!not base64", base64.StdEncoding.EncodeToString([]byte("not a png"))} {
		_, err := DecodeImage(in, 0)
		require.ErrorIs(t, err, models.ErrMalformedPayload, in)
	}
}

// pngHeaderOnly returns a PNG holding only an IHDR chunk declaring w×h RGBA
func pngHeaderOnly(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := make([]byte, 4+13)
	copy(chunk, "IHDR")
	binary.BigEndian.PutUint32(chunk[4:], w)
	binary.BigEndian.PutUint32(chunk[8:], h)
	chunk[12] = 8 // bit depth
	chunk[13] = 6 // truecolor with alpha

	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeImageRejectsOversizedHeader(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(pngHeaderOnly(30000, 30000))
	require.Less(t, len(b64), 128)

	_, err := DecodeImage(b64, 0)
	require.ErrorIs(t, err, models.ErrMalformedPayload)
	assert.Contains(t, err.Error(), "30000x30000")
}

func TestDecodeImagePixelLimit(t *testing.T) {
	b64, err := EncodeFrame(models.NewFrame(4, 4))
	require.NoError(t, err)

	_, err = DecodeImage(b64, 15)
	require.ErrorIs(t, err, models.ErrMalformedPayload)

	img, err := DecodeImage(b64, 16)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestDecodeEnvelope(t *testing.T) {
	video, err := VideoEnvelope("aGVsbG8=")
	require.NoError(t, err)
	assert.JSONEq(t, `{"video":"aGVsbG8="}`, string(video))

	audio, err := AudioEnvelope("d29ybGQ=")
	require.NoError(t, err)
	assert.JSONEq(t, `{"audio":"d29ybGQ="}`, string(audio))

	tests := []struct {
		name     string
		in       string
		max      int
		wantKind models.PayloadKind
		wantErr  error
	}{
		{name: "video", in: string(video), wantKind: models.KindVideo},
		{name: "audio", in: string(audio), wantKind: models.KindAudio},
		{name: "unknown fields ignored", in: `{"video":"eA==","extra":1}`, wantKind: models.KindVideo},
		{name: "not json", in: `hello`, wantErr: models.ErrMalformedPayload},
		{name: "neither", in: `{}`, wantErr: models.ErrMalformedPayload},
		{name: "both", in: `{"video":"eA==","audio":"eA=="}`, wantErr: models.ErrMalformedPayload},
		{name: "wrong type", in: `{"video":5}`, wantErr: models.ErrMalformedPayload},
		{name: "too large", in: `{"video":"` + strings.Repeat("A", 64) + `"}`, max: 32, wantErr: models.ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.in), tt.max)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, env.Kind())
		})
	}
}

func TestClipRoundTrip(t *testing.T) {
	format := models.AudioFormat{SampleRate: 48000, Channels: 1}
	pcm := make([]byte, format.BytesPerSecond()/2+6) // not a whole number of blocks
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}

	raw, err := EncodeClip(pcm, format)
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	clip, err := DecodeClip(raw)
	require.NoError(t, err)
	assert.Equal(t, format, clip.Format)
	assert.Equal(t, pcm, clip.PCM)
	assert.InDelta(t, float64(500*time.Millisecond), float64(clip.Duration()), float64(time.Millisecond))
}

func TestClipBase64RoundTrip(t *testing.T) {
	chunk := &models.Chunk{
		Format:  models.AudioFormat{SampleRate: 8000, Channels: 2},
		Samples: []byte{1, 0, 2, 0, 3, 0, 4, 0},
	}

	b64, err := EncodeClipBase64(chunk)
	require.NoError(t, err)

	clip, err := DecodeClipBase64(b64)
	require.NoError(t, err)
	assert.Equal(t, chunk.Samples, clip.PCM)
	assert.Equal(t, chunk.Format, clip.Format)
}

func TestEncodeClipInvalidFormat(t *testing.T) {
	_, err := EncodeClip([]byte{0, 0}, models.AudioFormat{})
	require.Error(t, err)
}

func TestDecodeClipMalformed(t *testing.T) {
	_, err := DecodeClipBase64("@@@")
	require.ErrorIs(t, err, models.ErrMalformedPayload)

	_, err = DecodeClip([]byte("definitely not ebml"))
	require.ErrorIs(t, err, models.ErrMalformedPayload)
}
