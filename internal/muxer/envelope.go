package muxer

import (
	"fmt"

	json "github.com/goccy/go-json"

	"edgecast/pkg/models"
)

// VideoEnvelope wraps a base64 image in a {"video": ...} message
func VideoEnvelope(b64 string) ([]byte, error) {
	return json.Marshal(models.Envelope{Video: b64})
}

// AudioEnvelope wraps a base64 clip in an {"audio": ...} message
func AudioEnvelope(b64 string) ([]byte, error) {
	return json.Marshal(models.Envelope{Audio: b64})
}

// DecodeEnvelope parses a wire message. Exactly one of video or audio must be
// present. maxBytes <= 0 disables the size bound.
func DecodeEnvelope(data []byte, maxBytes int) (models.Envelope, error) {
	var env models.Envelope

	if maxBytes > 0 && len(data) > maxBytes {
		return env, fmt.Errorf("%w: %d bytes exceeds %d", models.ErrPayloadTooLarge, len(data), maxBytes)
	}

	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	switch {
	case env.Video == "" && env.Audio == "":
		return env, fmt.Errorf("%w: envelope carries neither video nor audio", models.ErrMalformedPayload)
	case env.Video != "" && env.Audio != "":
		return env, fmt.Errorf("%w: envelope carries both video and audio", models.ErrMalformedPayload)
	}

	return env, nil
}
