package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer connects to a relay exposing
// <base>/streams/<stream id>/<direction>?apiKey=<credential>
type WebSocketDialer struct {
	baseURL      string
	writeTimeout time.Duration
	readLimit    int64
	dialer       *websocket.Dialer
}

// WebSocketOption configures a WebSocketDialer
type WebSocketOption func(*WebSocketDialer)

// WithHandshakeTimeout bounds the opening handshake
func WithHandshakeTimeout(d time.Duration) WebSocketOption {
	return func(w *WebSocketDialer) { w.dialer.HandshakeTimeout = d }
}

// WithWriteTimeout bounds each write
func WithWriteTimeout(d time.Duration) WebSocketOption {
	return func(w *WebSocketDialer) { w.writeTimeout = d }
}

// WithReadLimit bounds the size of inbound messages
func WithReadLimit(n int64) WebSocketOption {
	return func(w *WebSocketDialer) { w.readLimit = n }
}

// NewWebSocketDialer creates a dialer for the relay at baseURL (ws:// or wss://)
func NewWebSocketDialer(baseURL string, opts ...WebSocketOption) *WebSocketDialer {
	d := &WebSocketDialer{
		baseURL:      strings.TrimRight(baseURL, "/"),
		writeTimeout: 5 * time.Second,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// URL builds the endpoint for addr. The stream id is escaped as one path segment.
func (d *WebSocketDialer) URL(addr Address) (string, error) {
	base, err := url.Parse(d.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url %q: %w", d.baseURL, err)
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return "", fmt.Errorf("relay url %q must use ws or wss", d.baseURL)
	}

	u := fmt.Sprintf("%s/streams/%s/%s", d.baseURL, url.PathEscape(addr.StreamID), addr.Direction)
	if addr.Credential != "" {
		u += "?apiKey=" + url.QueryEscape(addr.Credential)
	}
	return u, nil
}

// Dial opens a websocket connection for addr
func (d *WebSocketDialer) Dial(ctx context.Context, addr Address) (Conn, error) {
	u, err := d.URL(addr)
	if err != nil {
		return nil, err
	}

	ws, resp, err := d.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to establish websocket connection (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to establish websocket connection: %w", err)
	}

	if d.readLimit > 0 {
		ws.SetReadLimit(d.readLimit)
	}

	return &wsConn{ws: ws, writeTimeout: d.writeTimeout}, nil
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (c *wsConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
