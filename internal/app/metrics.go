package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qmaster",
		Name:      "job_transitions_total",
		Help:      "Upload job state transitions by target state",
	}, []string{"state"})

	jobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "qmaster",
		Name:      "jobs_in_flight",
		Help:      "Generation workers currently holding a slot",
	})

	generationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qmaster",
		Name:      "generation_duration_seconds",
		Help:      "Time spent extracting text and generating a pool",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	sweptJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qmaster",
		Name:      "swept_jobs_total",
		Help:      "Jobs force-failed by the stale job sweeper",
	}, []string{"state"})

	joins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qmaster",
		Name:      "test_joins_total",
		Help:      "Test joins, labelled by whether the participant had joined before",
	}, []string{"rejoin"})

	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qmaster",
		Name:      "submissions_total",
		Help:      "Submission attempts by outcome",
	}, []string{"outcome"})

	scoreRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qmaster",
		Name:      "submission_score_ratio",
		Help:      "Score divided by total marks for accepted submissions",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})
)
