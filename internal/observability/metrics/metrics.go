package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics exposes counters/histograms for the communication ledger.
type LedgerMetrics struct {
	emailsTotal      *prometheus.CounterVec
	gatewayWrites    *prometheus.CounterVec
	queueDeliveries  *prometheus.CounterVec
	inboundDuplicate prometheus.Counter
	httpLatency      *prometheus.HistogramVec
}

func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		emailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "notify",
			Name:      "emails_total",
			Help:      "Emails recorded by type and status",
		}, []string{"email_type", "status"}),
		gatewayWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "gateway",
			Name:      "writes_total",
			Help:      "Ledger writes by record kind and result",
		}, []string{"kind", "result"}),
		queueDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "email_queue",
			Name:      "deliveries_total",
			Help:      "Queued support forwards processed by final status",
		}, []string{"status"}),
		inboundDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledger",
			Subsystem: "notify",
			Name:      "inbound_duplicates_total",
			Help:      "Inbound emails dropped as already processed",
		}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests by route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.emailsTotal, m.gatewayWrites, m.queueDeliveries, m.inboundDuplicate, m.httpLatency)
	return m
}

func (m *LedgerMetrics) ObserveEmail(emailType, status string) {
	if m == nil {
		return
	}
	m.emailsTotal.WithLabelValues(emailType, status).Inc()
}

func (m *LedgerMetrics) ObserveWrite(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayWrites.WithLabelValues(kind, result).Inc()
}

func (m *LedgerMetrics) ObserveQueueDelivery(status string) {
	if m == nil {
		return
	}
	m.queueDeliveries.WithLabelValues(status).Inc()
}

func (m *LedgerMetrics) ObserveInboundDuplicate() {
	if m == nil {
		return
	}
	m.inboundDuplicate.Inc()
}

func (m *LedgerMetrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpLatency.WithLabelValues(method, route, statusClass(status)).Observe(seconds)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
