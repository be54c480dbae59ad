// Package monitoring watches document runs and workflow sessions and raises
// webhook alerts when their health crosses configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run and session health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	RunsDegraded  int     `json:"runs_degraded"`
	FailRate      float64 `json:"fail_rate"`
	DegradedRate  float64 `json:"degraded_rate"`
	UnitsRun      int     `json:"units_run"`
	UnitsFellBack int     `json:"units_fell_back"`
	CostUSD       float64 `json:"cost_usd"`
	AvgTokens     int     `json:"avg_tokens"`

	// Session metrics.
	SessionsFailed int `json:"sessions_failed"`
	AwaitingReview int `json:"awaiting_review"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the part of the store the collector reads.
type Source interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]model.WorkflowState, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	source Source
	now    func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(source Source) *Collector {
	return &Collector{source: source, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot over the given lookback window. The review
// backlog counts every suspended session regardless of age.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.source.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var totalTokens int
	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.Result == nil {
			continue
		}
		if r.Result.Degraded {
			snap.RunsDegraded++
		}
		snap.UnitsRun += len(r.Result.Units)
		snap.UnitsFellBack += len(r.Result.FailedUnits())
		snap.CostUSD += r.Result.Usage.Cost
		totalTokens += r.Result.Usage.InputTokens + r.Result.Usage.OutputTokens
	}

	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
		snap.DegradedRate = float64(snap.RunsDegraded) / float64(finished)
	}
	if snap.RunsTotal > 0 {
		snap.AvgTokens = totalTokens / snap.RunsTotal
	}

	failed, err := c.source.ListSessions(ctx, store.SessionFilter{Status: model.StatusFailed, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list failed sessions")
	}
	for _, s := range failed {
		if !s.UpdatedAt.Before(cutoff) {
			snap.SessionsFailed++
		}
	}

	waiting, err := c.source.ListSessions(ctx, store.SessionFilter{Status: model.StatusAwaitingReview, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list sessions awaiting review")
	}
	snap.AwaitingReview = len(waiting)

	return snap, nil
}
