// Package metrics exposes apply attempt counters and timings in the
// Prometheus exposition format.
package metrics
