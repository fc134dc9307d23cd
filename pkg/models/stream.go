package models

import (
	"fmt"
	"sync"
	"time"
)

// Direction selects one logical side of the pub/sub channel
type Direction string

const (
	DirectionPublish   Direction = "publish"
	DirectionSubscribe Direction = "subscribe"
)

// ParseDirection parses "publish" or "subscribe"
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionPublish, DirectionSubscribe:
		return Direction(s), nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// ConnState represents the lifecycle state of a channel connection
type ConnState string

const (
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateConnecting   ConnState = "connecting"
	ConnStateOpen         ConnState = "open"
	ConnStateClosing      ConnState = "closing"
)

// ConnectionInfo is a snapshot of one direction's connection, returned by the API
type ConnectionInfo struct {
	Direction    Direction `json:"direction"`
	StreamID     string    `json:"streamId,omitempty"`
	ConnectionID string    `json:"connectionId,omitempty"`
	State        ConnState `json:"state"`
	OpenedAt     string    `json:"openedAt,omitempty"`
	Reconnects   uint64    `json:"reconnects"`
	Sent         uint64    `json:"sent"`
	Received     uint64    `json:"received"`
	Dropped      uint64    `json:"dropped"`
}

// ConnectionStats tracks per-direction counters across reconnects
type ConnectionStats struct {
	Reconnects uint64
	Sent       uint64
	Received   uint64
	Dropped    uint64
	OpenedAt   time.Time

	mu sync.Mutex
}

// IncrementSent counts a payload handed to the transport
func (s *ConnectionStats) IncrementSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sent++
}

// IncrementReceived counts an inbound message
func (s *ConnectionStats) IncrementReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Received++
}

// IncrementDropped counts a payload dropped due to state or backpressure
func (s *ConnectionStats) IncrementDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dropped++
}

// IncrementReconnects counts a reopen attempt
func (s *ConnectionStats) IncrementReconnects() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reconnects++
}

// MarkOpened records when the current connection opened
func (s *ConnectionStats) MarkOpened(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenedAt = t
}

// Snapshot fills the counter fields of info
func (s *ConnectionStats) Snapshot(info *ConnectionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info.Reconnects = s.Reconnects
	info.Sent = s.Sent
	info.Received = s.Received
	info.Dropped = s.Dropped
	if !s.OpenedAt.IsZero() {
		info.OpenedAt = s.OpenedAt.Format(time.RFC3339)
	}
}
