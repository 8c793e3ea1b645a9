package metric

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatdesk"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Session lifecycle
	LoginsTotal        prometheus.Counter
	RefreshesTotal     *prometheus.CounterVec // outcome
	ForcedLogoutsTotal *prometheus.CounterVec // reason

	// Outbound API calls
	RequestsTotal   *prometheus.CounterVec   // api, method, code
	RequestDuration *prometheus.HistogramVec // api
}

// NewRegistry creates a registry with the process and Go collectors and
// all chatdesk metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		LoginsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Successful logins",
		}),
		RefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Refresh attempts by outcome",
		}, []string{"outcome"}),
		ForcedLogoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "forced_logouts_total",
			Help:      "Forced logouts by reason",
		}, []string{"reason"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Outbound API requests",
		}, []string{"api", "method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Outbound API request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"api"}),
	}

	reg.MustRegister(
		r.LoginsTotal,
		r.RefreshesTotal,
		r.ForcedLogoutsTotal,
		r.RequestsTotal,
		r.RequestDuration,
	)
	return r
}

// Registerer exposes the underlying registry for components that register
// their own collectors (e.g. the Badger engine).
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer exposes the underlying registry for tests and exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns the /metrics handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// LoggedIn records a successful login.
func (r *Registry) LoggedIn() {
	r.LoginsTotal.Inc()
}

// Refreshed records a refresh attempt outcome.
func (r *Registry) Refreshed(outcome string) {
	r.RefreshesTotal.WithLabelValues(outcome).Inc()
}

// ForcedLogout records a forced logout.
func (r *Registry) ForcedLogout(reason string) {
	r.ForcedLogoutsTotal.WithLabelValues(reason).Inc()
}

// ObserveRequest records one outbound API call. status 0 means the request
// never got a response.
func (r *Registry) ObserveRequest(api, method string, status int, d time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	r.RequestsTotal.WithLabelValues(api, method, code).Inc()
	r.RequestDuration.WithLabelValues(api).Observe(d.Seconds())
}
