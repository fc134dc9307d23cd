package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"edgecast/pkg/models"
)

func recordAll(m *Metrics) {
	m.RecordFrameCaptured()
	m.RecordFrameSent(1024, 0.002)
	m.RecordFrameDropped("not_open")
	m.RecordSubtractorFailure()
	m.RecordConnectionState(models.DirectionPublish, models.ConnStateOpen)
	m.RecordReconnect(models.DirectionPublish)
	m.RecordSendDropped("buffer_full")
	m.RecordMessage(models.KindVideo)
	m.RecordMessageDropped()
	m.RecordDecodeError("envelope")
	m.RecordFrameRendered()
	m.RecordClipPlayed()
	m.RecordChunkSent(4096)
	m.RecordChunkDropped()
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { recordAll(m) })
}

func TestRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())
	recordAll(m)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesCaptured))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("not_open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("publish")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsOpened.WithLabelValues("publish")))

	m.RecordConnectionState(models.DirectionPublish, models.ConnStateDisconnected)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionState.WithLabelValues("publish")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsOpened.WithLabelValues("publish")))
}
