package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splyt_ingestion_outcomes_total",
		Help: "Ingestion pipeline outcomes by kind.",
	}, []string{"outcome"})

	stageSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splyt_ingestion_stage_seconds",
		Help:    "Time spent waiting on each extractor.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})
)

func recordOutcome(outcome string) {
	outcomesTotal.WithLabelValues(outcome).Inc()
}

func observeStage(stage string, start time.Time) {
	stageSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
