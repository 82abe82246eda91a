// Package metric exposes coordination metrics through Prometheus.
//
// Metrics cover the arbiter's registry (registered instances, active
// designation), the heartbeat and eviction machinery, and the import
// forwarding path (forwarded, buffered, dropped). The Handler function
// returns an http.Handler suitable for mounting at /metrics.
package metric
