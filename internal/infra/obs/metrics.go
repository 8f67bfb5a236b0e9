package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"jobchat/internal/app/realtime"
	"jobchat/internal/domain/chat"
)

// Metrics is the Prometheus view of the chat core. It satisfies the
// session and realtime metric ports.
type Metrics struct {
	registry *prometheus.Registry

	messagesSent  *prometheus.CounterVec
	sendFailures  *prometheus.CounterVec
	gateRejected  prometheus.Counter
	subscriptions *prometheus.GaugeVec
	resubscribed  *prometheus.CounterVec
	outboxSent    prometheus.Counter
	outboxFailed  prometheus.Counter
	jobUpdates    *prometheus.CounterVec
}

// NewMetrics registers the collectors on a fresh registry together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobchat", Name: "messages_sent_total", Help: "Messages confirmed by the store.",
		}, []string{"content"}),
		sendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobchat", Name: "send_failures_total", Help: "Send and attach attempts that did not produce a message.",
		}, []string{"content", "kind"}),
		gateRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobchat", Name: "gate_rejections_total", Help: "Sends refused because the job locked the conversation.",
		}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jobchat", Name: "realtime_subscriptions", Help: "Open realtime subscriptions.",
		}, []string{"channel"}),
		resubscribed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobchat", Name: "realtime_resubscriptions_total", Help: "Subscriptions restored after a transport drop.",
		}, []string{"channel"}),
		outboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobchat", Name: "outbox_published_total", Help: "Outbox events published.",
		}),
		outboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobchat", Name: "outbox_failures_total", Help: "Outbox publish attempts that failed.",
		}),
		jobUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobchat", Name: "job_updates_total", Help: "External job status updates by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messagesSent, m.sendFailures, m.gateRejected,
		m.subscriptions, m.resubscribed,
		m.outboxSent, m.outboxFailed, m.jobUpdates,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) MessageSent(kind string) { m.messagesSent.WithLabelValues(kind).Inc() }

func (m *Metrics) SendFailed(kind string, err error) {
	m.sendFailures.WithLabelValues(kind, chat.KindOf(err).String()).Inc()
}

func (m *Metrics) GateRejected() { m.gateRejected.Inc() }

func (m *Metrics) SubscriptionOpened(ch realtime.Channel) {
	m.subscriptions.WithLabelValues(string(ch)).Inc()
}

func (m *Metrics) SubscriptionClosed(ch realtime.Channel) {
	m.subscriptions.WithLabelValues(string(ch)).Dec()
}

func (m *Metrics) Resubscribed(ch realtime.Channel) { m.resubscribed.WithLabelValues(string(ch)).Inc() }

// OutboxPublished counts one outbox publish attempt.
func (m *Metrics) OutboxPublished(err error) {
	if err != nil {
		m.outboxFailed.Inc()
		return
	}
	m.outboxSent.Inc()
}

// JobUpdate counts one consumed job status event.
func (m *Metrics) JobUpdate(duplicate bool, err error) {
	switch {
	case err != nil:
		m.jobUpdates.WithLabelValues("failed").Inc()
	case duplicate:
		m.jobUpdates.WithLabelValues("duplicate").Inc()
	default:
		m.jobUpdates.WithLabelValues("applied").Inc()
	}
}
