package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionSnapshot is the live session state read at scrape time.
type SessionSnapshot struct {
	Authenticated bool
	RefreshCount  int
	ExpiresAt     time.Time // zero when unknown
}

// SessionCollector reports the session state on every scrape, so the
// remaining lifetime is always current without a background ticker.
type SessionCollector struct {
	snapshot func() SessionSnapshot
	now      func() time.Time

	authenticated *prometheus.Desc
	refreshCount  *prometheus.Desc
	expiresIn     *prometheus.Desc
}

// NewSessionCollector creates a collector over snapshot.
func NewSessionCollector(snapshot func() SessionSnapshot) *SessionCollector {
	return &SessionCollector{
		snapshot: snapshot,
		now:      time.Now,
		authenticated: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "authenticated"),
			"1 when an access token is held",
			nil, nil),
		refreshCount: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "refresh_count"),
			"Silent refreshes used since the last login",
			nil, nil),
		expiresIn: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "session", "expires_in_seconds"),
			"Seconds until the access token expires (negative when expired)",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *SessionCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.authenticated
	ch <- c.refreshCount
	ch <- c.expiresIn
}

// Collect implements prometheus.Collector.
func (c *SessionCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()

	var auth float64
	if s.Authenticated {
		auth = 1
	}
	ch <- prometheus.MustNewConstMetric(c.authenticated, prometheus.GaugeValue, auth)
	ch <- prometheus.MustNewConstMetric(c.refreshCount, prometheus.GaugeValue, float64(s.RefreshCount))
	if !s.ExpiresAt.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.expiresIn, prometheus.GaugeValue, s.ExpiresAt.Sub(c.now()).Seconds())
	}
}

// WatchSession registers a SessionCollector on r.
func (r *Registry) WatchSession(snapshot func() SessionSnapshot) error {
	return r.registry.Register(NewSessionCollector(snapshot))
}
