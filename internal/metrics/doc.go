// Package metrics exposes Prometheus counters for ingestion, persistence and
// fan-out. Every Recorder method is safe to call on a nil receiver so
// components can run without metrics in tests.
package metrics
