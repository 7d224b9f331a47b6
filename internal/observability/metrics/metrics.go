package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics exposes counters/histograms for webhook and decision flows.
type WebhookMetrics struct {
	inboundTotal    *prometheus.CounterVec
	decisionTotal   *prometheus.CounterVec
	webhookLatency  prometheus.Histogram
	providerLatency *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linebridge",
			Subsystem: "webhook",
			Name:      "inbound_total",
			Help:      "Total inbound LINE webhook deliveries",
		}, []string{"status"}),
		decisionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linebridge",
			Subsystem: "conversation",
			Name:      "decision_total",
			Help:      "Decision engine outcomes per processed message",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "linebridge",
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of LINE webhook processing",
			Buckets:   prometheus.DefBuckets,
		}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "linebridge",
			Subsystem: "conversation",
			Name:      "provider_latency_seconds",
			Help:      "Latency of AI provider invocations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.decisionTotal, m.webhookLatency, m.providerLatency)
	return m
}

func (m *WebhookMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *WebhookMetrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisionTotal.WithLabelValues(outcome).Inc()
}

func (m *WebhookMetrics) ObserveWebhookLatency(seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.Observe(seconds)
}

func (m *WebhookMetrics) ObserveProviderLatency(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(provider, outcome).Observe(seconds)
}
