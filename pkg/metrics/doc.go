// Package metrics exposes Prometheus gauges, counters, and histograms for
// the ingestion pipeline: one queue-depth gauge per stage predicate, a
// pass counter/duration pair per worker family, and a Timer helper for
// instrumenting upstream calls (BDS, validation, object store, search
// index).
package metrics
