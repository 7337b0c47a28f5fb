package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	Ok       = "ok"
	Conflict = "conflict"
	Fail     = "fail"
)

// Read operation label values.
const (
	OpGetSnapshot     = "get_snapshot"
	OpGetSnapshotBulk = "get_snapshot_bulk"
	OpGetOps          = "get_ops"
)

// Collectors for store commits and reads.
var (
	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docstore_commits_total",
		Help: "Cumulative number of commits, by outcome.",
	}, []string{"outcome"})
	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docstore_commit_duration_seconds",
		Help:    "Duration of commit transactions, including connection acquisition.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	ReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docstore_reads_total",
		Help: "Cumulative number of snapshot and op reads, by operation and outcome.",
	}, []string{"op", "outcome"})
	OpsReadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docstore_ops_read_total",
		Help: "Cumulative number of op records returned to callers.",
	})
)
