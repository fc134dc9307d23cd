package transport

import (
	"context"
	"io"
	"sync"

	"edgecast/pkg/models"
)

// MemoryHub is an in-process relay: messages written on a publish connection
// are delivered to every subscribe connection of the same stream. Slow
// subscribers drop messages rather than block publishers.
type MemoryHub struct {
	buffer int

	subscribers map[string]map[*memConn]struct{}
	conns       map[*memConn]struct{}
	mu          sync.Mutex
}

// NewMemoryHub creates a hub whose subscriber queues hold buffer messages
func NewMemoryHub(buffer int) *MemoryHub {
	if buffer <= 0 {
		buffer = 1
	}
	return &MemoryHub{
		buffer:      buffer,
		subscribers: make(map[string]map[*memConn]struct{}),
		conns:       make(map[*memConn]struct{}),
	}
}

// Dial attaches a connection to the hub
func (h *MemoryHub) Dial(ctx context.Context, addr Address) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &memConn{
		hub:    h,
		addr:   addr,
		inbox:  make(chan []byte, h.buffer),
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c] = struct{}{}
	if addr.Direction == models.DirectionSubscribe {
		if h.subscribers[addr.StreamID] == nil {
			h.subscribers[addr.StreamID] = make(map[*memConn]struct{})
		}
		h.subscribers[addr.StreamID][c] = struct{}{}
	}

	return c, nil
}

// Disconnect closes every connection attached to streamID, as a relay restart would
func (h *MemoryHub) Disconnect(streamID string) {
	h.mu.Lock()
	var victims []*memConn
	for c := range h.conns {
		if c.addr.StreamID == streamID {
			victims = append(victims, c)
		}
	}
	h.mu.Unlock()

	for _, c := range victims {
		c.Close()
	}
}

// Connections returns the number of live connections for streamID and direction
func (h *MemoryHub) Connections(streamID string, dir models.Direction) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for c := range h.conns {
		if c.addr.StreamID == streamID && c.addr.Direction == dir {
			n++
		}
	}
	return n
}

func (h *MemoryHub) publish(streamID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subscribers[streamID] {
		msg := make([]byte, len(data))
		copy(msg, data)
		select {
		case sub.inbox <- msg:
		default:
		}
	}
}

func (h *MemoryHub) remove(c *memConn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c)
	if subs, ok := h.subscribers[c.addr.StreamID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscribers, c.addr.StreamID)
		}
	}
}

type memConn struct {
	hub       *MemoryHub
	addr      Address
	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func (c *memConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	if c.addr.Direction != models.DirectionPublish {
		return nil
	}
	c.hub.publish(c.addr.StreamID, data)
	return nil
}

func (c *memConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.inbox:
		return msg, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *memConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.hub.remove(c)
	})
	return nil
}
