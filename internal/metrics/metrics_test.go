package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func getTestMetrics() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

func TestEventReceived_UnknownEventsCollapse(t *testing.T) {
	m := getTestMetrics()
	m.RegisterEvents("joinRoom", "formUpdate")

	m.EventReceived("joinRoom")
	m.EventReceived("joinRoom")
	m.EventReceived("whatever-1")
	m.EventReceived("whatever-2")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("joinRoom")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(unknownEvent)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("formUpdate")))
}

func TestGaugesAndCounters(t *testing.T) {
	m := getTestMetrics()

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections))

	m.SetActiveRooms(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveRooms))

	m.PersistenceFailed("update_elements")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistenceFailures.WithLabelValues("update_elements")))

	m.ChatMessageStored()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatMessagesTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RegisterEvents("joinRoom")
		m.EventReceived("joinRoom")
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.SetActiveRooms(1)
		m.PersistenceFailed("x")
		m.ChatMessageStored()
	})
}
