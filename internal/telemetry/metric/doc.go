// Package metric provides Prometheus metrics for chatdesk.
//
//   - prometheus.go: registry, event counters and the /metrics handler
//   - collector.go: scrape-time collector for the live session state
//
// Metrics are only served by `chatdesk session watch` when metrics.listen
// is configured; one-shot commands record into a registry nobody scrapes.
package metric
