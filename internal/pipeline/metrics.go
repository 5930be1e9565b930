package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess     = "success"
	outcomeFailed      = "failed"
	outcomeSkipped     = "skipped"
	outcomeConflict    = "conflict"
	outcomeInterrupted = "interrupted"
	outcomeError       = "error"
)

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ugc_stage_duration_seconds",
		Help:    "Wall clock of one stage handler invocation",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
	}, []string{"stage", "outcome"})

	stageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ugc_stage_runs_total",
		Help: "Stage handler invocations by outcome",
	}, []string{"stage", "outcome"})

	refundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ugc_refunds_total",
		Help: "Credit refunds issued for failed jobs",
	})
)
