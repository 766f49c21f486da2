// Package metrics exposes the coordinator's counters and gauges through a
// dedicated Prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "aero_screenshare_signaling"

// Event names for the events_total counter.
const (
	UserRegistered       = "user_registered"
	UserDisconnected     = "user_disconnected"
	SessionStarted       = "session_started"
	SessionEnded         = "session_ended"
	SharingStarted       = "sharing_started"
	SharingStopped       = "sharing_stopped"
	OfferDirected        = "offer_directed"
	OfferBroadcast       = "offer_broadcast"
	AnswerRelayed        = "answer_relayed"
	CandidateRelayed     = "candidate_relayed"
	StreamRequested      = "stream_requested"
	PendingViewerReplace = "pending_viewer_replaced"
	CaptureStarted       = "capture_started"
	CaptureFailed        = "capture_failed"
	CaptureReleased      = "capture_released"
	CapabilityFailure    = "capability_failure"

	DropReasonRateLimited = "rate_limited"
	DropReasonQueueFull   = "send_queue_full"
	BadMessage            = "bad_message"
)

// Metrics is safe for concurrent use. A nil *Metrics discards everything so
// components can run without metrics wiring in tests.
type Metrics struct {
	reg *prometheus.Registry

	events         *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	onlineUsers    prometheus.Gauge
	activeSessions prometheus.Gauge
	sharing        prometheus.Gauge
	recordings     prometheus.Gauge
	sockets        prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Coordinator events by name.",
		}, []string{"event"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Messenger deliveries by signaling event and result.",
		}, []string{"event", "result"}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users currently online, placeholders included.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently active.",
		}),
		sharing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sharing_sessions",
			Help:      "Active sessions currently sharing.",
		}),
		recordings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_recordings",
			Help:      "Recordings currently capturing or paused.",
		}),
		sockets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signaling_connections",
			Help:      "Open signaling WebSocket connections.",
		}),
	}
	reg.MustRegister(
		m.events,
		m.deliveries,
		m.onlineUsers,
		m.activeSessions,
		m.sharing,
		m.recordings,
		m.sockets,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Inc(event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event).Inc()
}

// Delivery counts one Messenger call for a signaling event.
func (m *Metrics) Delivery(event string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.deliveries.WithLabelValues(event, result).Inc()
}

// Gauges carries a point-in-time view of the repositories.
type Gauges struct {
	OnlineUsers      int
	ActiveSessions   int
	SharingSessions  int
	ActiveRecordings int
}

func (m *Metrics) SetGauges(g Gauges) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(g.OnlineUsers))
	m.activeSessions.Set(float64(g.ActiveSessions))
	m.sharing.Set(float64(g.SharingSessions))
	m.recordings.Set(float64(g.ActiveRecordings))
}

func (m *Metrics) SocketOpened() {
	if m != nil {
		m.sockets.Inc()
	}
}

func (m *Metrics) SocketClosed() {
	if m != nil {
		m.sockets.Dec()
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
