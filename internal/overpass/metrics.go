package overpass

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Query Client's Prometheus instrumentation. A nil
// *Metrics is valid everywhere below and simply records nothing, so
// tests and callers that don't care about metrics can skip registration.
type Metrics struct {
	requests        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	killMyQueries   *prometheus.CounterVec
}

// NewMetrics creates and registers the Query Client's metrics on reg.
// Pass prometheus.NewRegistry() in tests to avoid global-registry collisions.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osm_overpass_requests_total",
			Help: "Overpass HTTP requests by endpoint and final status.",
		}, []string{"endpoint", "status"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osm_overpass_retries_total",
			Help: "Overpass query retries by reason.",
		}, []string{"reason"}),
		killMyQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osm_overpass_kill_my_queries_total",
			Help: "kill_my_queries side-channel requests issued, by endpoint.",
		}, []string{"endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.retries, m.killMyQueries)
	}
	return m
}

func (m *Metrics) observeRequest(endpoint, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, status).Inc()
}

func (m *Metrics) observeRetry(reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeKillMyQueries(endpoint string) {
	if m == nil {
		return
	}
	m.killMyQueries.WithLabelValues(endpoint).Inc()
}
