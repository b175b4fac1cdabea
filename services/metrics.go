package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	storiesHarvested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hn_stories_harvested_total",
		Help: "Total number of stories harvested and submitted for analysis.",
	})
	commentsHarvested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hn_comments_harvested_total",
		Help: "Total number of comments collected from comment trees.",
	})
	flowsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hn_flows_submitted_total",
		Help: "Total number of map-reduce flows submitted to the queue.",
	})
	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_jobs_total",
		Help: "Job attempts by queue, job name and outcome.",
	}, []string{"queue", "name", "status"})
	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hn_job_duration_seconds",
		Help:    "Duration of job attempts.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"queue", "name"})
	llmFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_llm_fallbacks_total",
		Help: "Number of times the secondary language model provider took over.",
	}, []string{"stage"})
	embeddingFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hn_embedding_failures_total",
		Help: "Analyses persisted without an embedding because every provider failed.",
	})
	analysesPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hn_analyses_persisted_total",
		Help: "Total number of analyses written to the database.",
	})
)

func init() {
	prometheus.MustRegister(storiesHarvested, commentsHarvested, flowsSubmitted, jobsTotal,
		jobDuration, llmFallbacks, embeddingFailures, analysesPersisted)
}

// CountFallback zählt eine Übernahme durch den sekundären Provider in einer Stufe.
func CountFallback(stage string) func(failed string, err error) {
	return func(string, error) { llmFallbacks.WithLabelValues(stage).Inc() }
}
