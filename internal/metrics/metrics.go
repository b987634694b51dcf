// Package metrics exposes the prometheus collectors of the chat server.
//
// All methods are safe to call on a nil *Metrics, which records nothing. This
// keeps components usable in tests without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gochat"

// Metrics holds the collectors shared by the hub, the sessions and the store.
type Metrics struct {
	sessionsActive       prometheus.Gauge
	usersJoined          prometheus.Gauge
	framesReceived       *prometheus.CounterVec
	framesSent           prometheus.Counter
	broadcasts           prometheus.Counter
	broadcastDropped     prometheus.Counter
	subscribersEvicted   prometheus.Counter
	directDeliveryFailed prometheus.Counter
	rateLimited          prometheus.Counter
	storeErrors          *prometheus.CounterVec
}

// New registers the collectors with reg. Use prometheus.NewRegistry() in tests
// to avoid duplicate registration against the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open websocket sessions",
		}),
		usersJoined: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "users_joined",
			Help:      "Number of sessions bound to a username",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames by message type",
		}, []string{"type"}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames written to clients",
		}),
		broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Frames published to the broadcast hub",
		}),
		broadcastDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Broadcast frames discarded because a subscriber buffer was full",
		}),
		subscribersEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_evicted_total",
			Help:      "Subscribers disconnected because their buffer was full",
		}),
		directDeliveryFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "direct_delivery_failed_total",
			Help:      "Private or group frames that could not be queued for a recipient",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rate_limited_total",
			Help:      "Inbound frames delayed by the per-connection rate limiter",
		}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed persistence calls by operation",
		}, []string{"op"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessionsActive.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessionsActive.Dec()
	}
}

func (m *Metrics) UserJoined() {
	if m != nil {
		m.usersJoined.Inc()
	}
}

func (m *Metrics) UserLeft() {
	if m != nil {
		m.usersJoined.Dec()
	}
}

func (m *Metrics) FrameReceived(kind string) {
	if m != nil {
		m.framesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) FrameSent() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *Metrics) Broadcast() {
	if m != nil {
		m.broadcasts.Inc()
	}
}

func (m *Metrics) BroadcastDropped() {
	if m != nil {
		m.broadcastDropped.Inc()
	}
}

func (m *Metrics) SubscriberEvicted() {
	if m != nil {
		m.subscribersEvicted.Inc()
	}
}

func (m *Metrics) DirectDeliveryFailed() {
	if m != nil {
		m.directDeliveryFailed.Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) StoreError(op string) {
	if m != nil {
		m.storeErrors.WithLabelValues(op).Inc()
	}
}
