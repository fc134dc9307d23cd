package streammanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"edgecast/internal/metrics"
	"edgecast/internal/transport"
	"edgecast/pkg/models"
)

const (
	// DefaultReconnectDelay is the fixed wait between a failed or closed
	// connection and the next attempt. There is no backoff.
	DefaultReconnectDelay = 5 * time.Second

	DefaultSendBuffer    = 4
	DefaultReceiveBuffer = 8
)

// Credentials supplies the capability credential presented for a direction
type Credentials interface {
	Credential(dir models.Direction) string
}

// Options tunes the manager. Zero values fall back to the defaults.
type Options struct {
	ReconnectDelay time.Duration
	SendBuffer     int
	ReceiveBuffer  int
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.ReceiveBuffer <= 0 {
		o.ReceiveBuffer = DefaultReceiveBuffer
	}
	return o
}

// Manager owns at most one connection per direction and keeps it open,
// reopening it after a fixed delay whenever it fails or closes unexpectedly.
type Manager struct {
	dialer      transport.Dialer
	credentials Credentials
	clock       clock.Clock
	metrics     *metrics.Metrics
	log         *logrus.Entry
	opts        Options

	channels map[models.Direction]*channel
	closed   bool
	mu       sync.Mutex

	// Inbound messages from the subscribe connection
	messages chan []byte
}

// New creates a channel manager
func New(dialer transport.Dialer, creds Credentials, clk clock.Clock, m *metrics.Metrics, log *logrus.Entry, opts Options) *Manager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	opts = opts.withDefaults()

	return &Manager{
		dialer:      dialer,
		credentials: creds,
		clock:       clk,
		metrics:     m,
		log:         log.WithField("component", "streammanager"),
		opts:        opts,
		channels:    make(map[models.Direction]*channel),
		messages:    make(chan []byte, opts.ReceiveBuffer),
	}
}

// Open attaches dir to streamID. An existing connection for dir on a
// different stream is fully closed before the new one is dialed; opening the
// stream dir is already attached to is a no-op. Open does not wait for the
// connection: dialing and reconnecting happen in the background.
func (m *Manager) Open(dir models.Direction, streamID string) error {
	if _, err := models.ParseDirection(string(dir)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return models.ErrClosed
	}

	if old, exists := m.channels[dir]; exists {
		if old.addr.StreamID == streamID {
			return nil
		}
		m.log.WithFields(logrus.Fields{
			"direction": dir,
			"stream":    old.addr.StreamID,
			"next":      streamID,
		}).Info("Stream changed, closing current connection")
		old.stop()
		delete(m.channels, dir)
	}

	addr := transport.Address{
		StreamID:  streamID,
		Direction: dir,
	}
	if m.credentials != nil {
		addr.Credential = m.credentials.Credential(dir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		addr:   addr,
		state:  models.ConnStateDisconnected,
		stats:  &models.ConnectionStats{},
		cancel: cancel,
		done:   make(chan struct{}),
		log:    m.log.WithFields(logrus.Fields{"direction": dir, "stream": streamID}),
	}
	m.channels[dir] = ch

	go m.run(ctx, ch)

	return nil
}

// Publish hands payload to the open publish connection without blocking.
// When no publish connection is open, or its send buffer is full, the payload
// is dropped and logged and the returned error says why.
func (m *Manager) Publish(payload []byte) error {
	ch := m.channel(models.DirectionPublish)
	if ch == nil {
		m.metrics.RecordSendDropped("not_open")
		m.log.Debug("No publish connection, dropping payload")
		return models.ErrNotOpen
	}

	ch.mu.Lock()
	state, outbox := ch.state, ch.outbox
	ch.mu.Unlock()

	if state != models.ConnStateOpen || outbox == nil {
		ch.dropped("not_open", m.metrics)
		return models.ErrNotOpen
	}

	select {
	case outbox <- payload:
		return nil
	default:
		ch.dropped("buffer_full", m.metrics)
		return models.ErrSendBufferFull
	}
}

// Messages returns inbound messages from the subscribe connection. The
// channel is closed by Shutdown.
func (m *Manager) Messages() <-chan []byte {
	return m.messages
}

// Close detaches dir and waits until its connection is closed. Pending
// reconnects are cancelled.
func (m *Manager) Close(dir models.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, exists := m.channels[dir]
	if !exists {
		return fmt.Errorf("%s: %w", dir, models.ErrNotOpen)
	}

	ch.stop()
	delete(m.channels, dir)
	ch.log.Info("Connection closed")

	return nil
}

// State returns the lifecycle state of dir
func (m *Manager) State(dir models.Direction) models.ConnState {
	ch := m.channel(dir)
	if ch == nil {
		return models.ConnStateDisconnected
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// StreamID returns the stream dir is attached to, or "" if none
func (m *Manager) StreamID(dir models.Direction) string {
	ch := m.channel(dir)
	if ch == nil {
		return ""
	}
	return ch.addr.StreamID
}

// Info returns a snapshot of both directions
func (m *Manager) Info() []models.ConnectionInfo {
	dirs := []models.Direction{models.DirectionPublish, models.DirectionSubscribe}
	infos := make([]models.ConnectionInfo, 0, len(dirs))

	for _, dir := range dirs {
		info := models.ConnectionInfo{
			Direction: dir,
			State:     models.ConnStateDisconnected,
		}
		if ch := m.channel(dir); ch != nil {
			ch.snapshot(&info)
		}
		infos = append(infos, info)
	}

	return infos
}

// Shutdown closes every connection and rejects further opens
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for dir, ch := range m.channels {
		ch.stop()
		delete(m.channels, dir)
	}

	// Every reader has exited, nothing sends on messages anymore
	close(m.messages)
	m.log.Info("Channel manager shut down")
}

func (m *Manager) channel(dir models.Direction) *channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channels[dir]
}

// run dials and serves one logical connection until ctx is cancelled
func (m *Manager) run(ctx context.Context, ch *channel) {
	defer close(ch.done)
	defer ch.setState(models.ConnStateDisconnected, m.metrics)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			ch.stats.IncrementReconnects()
			m.metrics.RecordReconnect(ch.addr.Direction)
		}

		ch.setState(models.ConnStateConnecting, m.metrics)
		conn, err := m.dialer.Dial(ctx, ch.addr)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}

		if err != nil {
			ch.log.WithError(err).Warn("Failed to open connection")
		} else {
			m.serve(ctx, ch, conn)
			if ctx.Err() != nil {
				return
			}
			ch.log.Warn("Connection closed unexpectedly")
		}

		ch.setState(models.ConnStateDisconnected, m.metrics)
		ch.log.WithField("delay", m.opts.ReconnectDelay).Info("Reconnecting after delay")

		if !m.wait(ctx) {
			return
		}
	}
}

// wait sleeps for the reconnect delay, returning false if ctx ends first
func (m *Manager) wait(ctx context.Context) bool {
	timer := m.clock.NewTimer(m.opts.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}

// serve pumps one open connection until it fails or ctx is cancelled. The
// connection is closed and both pumps have exited when serve returns.
func (m *Manager) serve(ctx context.Context, ch *channel, conn transport.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	connID := uuid.NewString()
	outbox := make(chan []byte, m.opts.SendBuffer)
	log := ch.log.WithField("conn_id", connID)

	ch.mu.Lock()
	ch.connID = connID
	ch.outbox = outbox
	ch.mu.Unlock()
	ch.stats.MarkOpened(m.clock.Now())
	ch.setState(models.ConnStateOpen, m.metrics)

	log.Info("Connection open")

	var wg sync.WaitGroup
	wg.Add(2)

	// Writer
	go func() {
		defer wg.Done()
		for {
			select {
			case <-connCtx.Done():
				return
			case payload := <-outbox:
				if err := conn.WriteMessage(payload); err != nil {
					log.WithError(err).Warn("Write failed")
					cancel()
					return
				}
				ch.stats.IncrementSent()
			}
		}
	}()

	// Reader
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				if connCtx.Err() == nil {
					log.WithError(err).Debug("Read ended")
				}
				return
			}
			ch.stats.IncrementReceived()

			// The relay only delivers stream data on subscribe connections
			if ch.addr.Direction != models.DirectionSubscribe {
				continue
			}

			select {
			case m.messages <- data:
			default:
				ch.stats.IncrementDropped()
				m.metrics.RecordMessageDropped()
				log.Debug("Receive buffer full, dropping message")
			}
		}
	}()

	<-connCtx.Done()

	ch.mu.Lock()
	ch.outbox = nil
	ch.mu.Unlock()
	ch.setState(models.ConnStateClosing, m.metrics)

	if err := conn.Close(); err != nil {
		log.WithError(err).Debug("Close failed")
	}
	wg.Wait()
}

// channel is one logical connection. It is replaced, never reused, when its
// stream changes.
type channel struct {
	addr  transport.Address
	stats *models.ConnectionStats
	log   *logrus.Entry

	state      models.ConnState
	connID     string
	outbox     chan []byte
	dropLogged bool
	mu         sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func (c *channel) stop() {
	c.cancel()
	<-c.done
}

func (c *channel) setState(state models.ConnState, m *metrics.Metrics) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	if changed {
		c.dropLogged = false
	}
	if state != models.ConnStateOpen {
		c.connID = ""
	}
	c.mu.Unlock()

	if changed {
		m.RecordConnectionState(c.addr.Direction, state)
	}
}

// dropped counts a refused payload. The first drop after a state change is
// logged at warn, the rest at debug.
func (c *channel) dropped(reason string, m *metrics.Metrics) {
	c.stats.IncrementDropped()
	m.RecordSendDropped(reason)

	c.mu.Lock()
	first := !c.dropLogged
	c.dropLogged = true
	state := c.state
	c.mu.Unlock()

	entry := c.log.WithFields(logrus.Fields{"reason": reason, "state": state})
	if first {
		entry.Warn("Connection not accepting data, dropping payload")
	} else {
		entry.Debug("Dropping payload")
	}
}

func (c *channel) snapshot(info *models.ConnectionInfo) {
	c.mu.Lock()
	info.StreamID = c.addr.StreamID
	info.ConnectionID = c.connID
	info.State = c.state
	c.mu.Unlock()
	c.stats.Snapshot(info)
}
