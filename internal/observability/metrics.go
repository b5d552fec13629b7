package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics of the real-time layer. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// ConnectionsActive is the number of open websocket connections.
	ConnectionsActive prometheus.Gauge

	// OnlineUsers is the size of the presence directory.
	OnlineUsers prometheus.Gauge

	// MessagesTotal counts routed messages.
	// Labels: outcome (delivered|queued|failed)
	MessagesTotal *prometheus.CounterVec

	// NotificationsFlushed counts unread notifications emitted on userOnline.
	NotificationsFlushed prometheus.Counter

	// ChannelsCreated counts createChannel requests that succeeded.
	ChannelsCreated prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_connections_active",
			Help: "Number of open websocket connections",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_online_users",
			Help: "Number of users present in the presence directory",
		}),
		MessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchboard_messages_total",
				Help: "Total number of routed messages by delivery outcome",
			},
			[]string{"outcome"},
		),
		NotificationsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_notifications_flushed_total",
			Help: "Total number of unread notifications emitted on userOnline",
		}),
		ChannelsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_channels_created_total",
			Help: "Total number of channels created",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.ConnectionsActive.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.ConnectionsActive.Dec()
	}
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m != nil {
		m.OnlineUsers.Set(float64(n))
	}
}

func (m *Metrics) MessageRouted(outcome string) {
	if m != nil {
		m.MessagesTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) NotificationsFlushedAdd(n int) {
	if m != nil {
		m.NotificationsFlushed.Add(float64(n))
	}
}

func (m *Metrics) ChannelCreated() {
	if m != nil {
		m.ChannelsCreated.Inc()
	}
}
