// Package metrics holds the Prometheus collectors of the segment engine
package metrics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// Rebuild invocations partitioned by outcome (ok, invalid, failed)
	RebuildRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segment_rebuild_runs_total",
			Help: "Total number of rebuild invocations",
		},
		[]string{"outcome"},
	)

	// Per-segment rebuild duration partitioned by result
	SegmentRebuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "segment_rebuild_duration_seconds",
			Help:    "Duration of one segment rebuild in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"result"},
	)

	// Membership changes partitioned by segment and direction
	MembershipChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segment_membership_changes_total",
			Help: "Total number of membership rows added or removed",
		},
		[]string{"segment", "direction", "source"},
	)

	// Applied batches partitioned by phase (new, orphaned)
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segment_rebuild_batches_total",
			Help: "Total number of reconciliation batches applied",
		},
		[]string{"phase"},
	)

	// Segment failures partitioned by error kind
	SegmentErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "segment_rebuild_errors_total",
			Help: "Total number of segment rebuilds that failed",
		},
		[]string{"kind"},
	)

	// Segments skipped because another run holds their lock
	SegmentsLockedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "segment_rebuild_locked_total",
			Help: "Total number of segments skipped because they were locked",
		},
	)

	// Last successful full rebuild per segment
	SegmentLastBuilt = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "segment_last_full_rebuild_timestamp_seconds",
			Help: "Unix time of the last full rebuild of a segment",
		},
		[]string{"segment"},
	)
)

// SegmentLabel renders a segment id as a label value
func SegmentLabel(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Push sends the default registry to a Prometheus pushgateway
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	err := push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
