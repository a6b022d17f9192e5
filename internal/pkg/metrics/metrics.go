// Package metrics holds the Prometheus collectors of the chat service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clubchat"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	MessagesSent         *prometheus.CounterVec
	SendFailures         *prometheus.CounterVec
	SendLatency          prometheus.Histogram
	PollVotes            prometheus.Counter
	MediaExpired         *prometheus.CounterVec
	NotificationsCreated *prometheus.CounterVec
	PushFailures         prometheus.Counter
	SideEffectFailures   *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	WebsocketSubscribers prometheus.Gauge
}

// New creates and registers the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted, by type.",
		}, []string{"type"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_send_failures_total",
			Help:      "Rejected or failed sends, by reason.",
		}, []string{"reason"}),
		SendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_send_duration_seconds",
			Help:      "Time spent in the send pipeline until the message is persisted.",
			Buckets:   prometheus.DefBuckets,
		}),
		PollVotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_votes_total",
			Help:      "Applied poll votes and retractions.",
		}),
		MediaExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_expired_total",
			Help:      "Ephemeral media expiries, by trigger.",
		}, []string{"trigger"}),
		NotificationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "In-app notifications written, by type.",
		}, []string{"type"}),
		PushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_forward_failures_total",
			Help:      "Push forwards that failed after the notification was stored.",
		}),
		SideEffectFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Swallowed failures of best-effort side effects, by kind.",
		}, []string{"kind"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		WebsocketSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_subscribers",
			Help:      "Currently connected websocket subscribers.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesSent,
		m.SendFailures,
		m.SendLatency,
		m.PollVotes,
		m.MediaExpired,
		m.NotificationsCreated,
		m.PushFailures,
		m.SideEffectFailures,
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.WebsocketSubscribers,
	)
	return m
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) MessageSent(msgType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.MessagesSent.WithLabelValues(msgType).Inc()
	m.SendLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) SendFailed(reason string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) VoteApplied() {
	if m == nil {
		return
	}
	m.PollVotes.Inc()
}

func (m *Metrics) Expired(trigger string) {
	if m == nil {
		return
	}
	m.MediaExpired.WithLabelValues(trigger).Inc()
}

func (m *Metrics) NotificationCreated(notificationType string) {
	if m == nil {
		return
	}
	m.NotificationsCreated.WithLabelValues(notificationType).Inc()
}

func (m *Metrics) PushFailed() {
	if m == nil {
		return
	}
	m.PushFailures.Inc()
}

// SideEffectFailed counts a logged-and-swallowed error
func (m *Metrics) SideEffectFailed(kind string) {
	if m == nil {
		return
	}
	m.SideEffectFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.WebsocketSubscribers.Inc()
}

func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.WebsocketSubscribers.Dec()
}
