// Package transport abstracts the bidirectional pub/sub channel the pipeline
// talks to. A connection is opened for one direction of one stream and is
// never reused after it closes.
package transport

import (
	"context"

	"edgecast/pkg/models"
)

// Address selects the stream and direction a connection attaches to
type Address struct {
	StreamID   string
	Credential string
	Direction  models.Direction
}

// Conn is one open connection. WriteMessage must not be called concurrently;
// ReadMessage blocks until a message arrives or the connection closes.
type Conn interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens connections
type Dialer interface {
	Dial(ctx context.Context, addr Address) (Conn, error)
}
