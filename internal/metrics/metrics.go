package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ppsocket"

// 已知事件之外的名字统一归为 unknown，避免标签基数失控
const unknownEvent = "unknown"

// Metrics 汇总实时同步引擎的全部指标。所有方法对 nil 接收者安全。
type Metrics struct {
	WSConnections       prometheus.Gauge
	ActiveRooms         prometheus.Gauge
	EventsTotal         *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	ChatMessagesTotal   prometheus.Counter

	knownEvents map[string]bool
}

// New 使用默认注册表创建指标
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry 使用自定义注册表创建指标，测试中传入 prometheus.NewRegistry()
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Current number of open WebSocket connections",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Current number of rooms with at least one participant",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of inbound socket events by name",
		}, []string{"event"}),
		PersistenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Total number of failed storage calls by operation",
		}, []string{"operation"}),
		ChatMessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Total number of chat messages stored",
		}),
	}
}

// RegisterEvents 声明合法的事件名，其余事件计入 unknown
func (m *Metrics) RegisterEvents(names ...string) {
	if m == nil {
		return
	}
	if m.knownEvents == nil {
		m.knownEvents = make(map[string]bool, len(names))
	}
	for _, n := range names {
		m.knownEvents[n] = true
	}
}

func (m *Metrics) EventReceived(event string) {
	if m == nil {
		return
	}
	if m.knownEvents != nil && !m.knownEvents[event] {
		event = unknownEvent
	}
	m.EventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.WSConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.WSConnections.Dec()
	}
}

func (m *Metrics) SetActiveRooms(n int) {
	if m != nil {
		m.ActiveRooms.Set(float64(n))
	}
}

func (m *Metrics) PersistenceFailed(operation string) {
	if m != nil {
		m.PersistenceFailures.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) ChatMessageStored() {
	if m != nil {
		m.ChatMessagesTotal.Inc()
	}
}
