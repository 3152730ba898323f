// Package metrics exposes the Prometheus instrumentation the ambient
// stack carries: commit/retry counters, WAL append and save-duration
// histograms, and GC/active-transaction gauges. It mirrors the
// teacher's own LSN/vacuum log lines (pkg/storage/engine.go
// Recover/Vacuum), surfaced as metrics
// instead of prints, using github.com/prometheus/client_golang — already
// present in the teacher's module graph as pebble's own dependency.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every counter/histogram/gauge one Database instance
// reports. Each Database gets its own Registry (rather than a single
// global one) so multiple databases in one process don't collide on
// metric labels.
type Registry struct {
	Commits           prometheus.Counter
	Retries           prometheus.Counter
	Aborts            prometheus.Counter
	WALAppends        prometheus.Counter
	WALAppendBytes    prometheus.Histogram
	SaveDuration      prometheus.Histogram
	GCVersions        prometheus.Counter
	ActiveTxns        prometheus.Gauge
}

// New constructs a Registry whose metrics are named "storedb_..." and
// carry a constant "database" label set to db, and registers every
// collector with reg (typically
// prometheus.NewRegistry() per database, or prometheus.DefaultRegisterer
// for a single-database process).
func New(reg prometheus.Registerer, db string) *Registry {
	constLabels := prometheus.Labels{"database": db}
	r := &Registry{
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storedb_commits_total", Help: "committed transactions", ConstLabels: constLabels,
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storedb_retries_total", Help: "transaction retries after a write conflict", ConstLabels: constLabels,
		}),
		Aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storedb_aborts_total", Help: "transactions aborted with a non-retried error", ConstLabels: constLabels,
		}),
		WALAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storedb_wal_appends_total", Help: "WAL entries appended", ConstLabels: constLabels,
		}),
		WALAppendBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "storedb_wal_append_bytes", Help: "encoded size of each appended WAL chunk", ConstLabels: constLabels,
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}),
		SaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "storedb_save_duration_seconds", Help: "wall time of a full snapshot save", ConstLabels: constLabels,
			Buckets: prometheus.DefBuckets,
		}),
		GCVersions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storedb_gc_versions_total", Help: "pending primary keys handed to GC sweeps (one per recorded write, not per collected version)", ConstLabels: constLabels,
		}),
		ActiveTxns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storedb_active_txns", Help: "currently active transactions", ConstLabels: constLabels,
		}),
	}
	if reg != nil {
		reg.MustRegister(r.Commits, r.Retries, r.Aborts, r.WALAppends, r.WALAppendBytes, r.SaveDuration, r.GCVersions, r.ActiveTxns)
	}
	return r
}

// Noop returns a Registry whose collectors are never registered with any
// Prometheus Registerer, for tests and callers that don't want a global
// registration side effect.
func Noop(db string) *Registry {
	return New(nil, db)
}
