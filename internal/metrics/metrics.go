package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mnemo_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// MemoryRetrievalTotal counts retrievals by the path that answered: native, fallback or unavailable.
	MemoryRetrievalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_memory_retrieval_total",
			Help: "Total number of memory retrievals by serving path.",
		},
		[]string{"path"},
	)

	MemoryRetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mnemo_memory_retrieval_duration_seconds",
			Help:    "Memory retrieval duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"path"},
	)

	MemoriesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_memories_written_total",
			Help: "Total number of memory records written.",
		},
		[]string{"source"},
	)

	SummarizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_summarizations_total",
			Help: "Total number of summarization runs.",
		},
		[]string{"status"},
	)

	SummarizationJobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mnemo_summarization_jobs_in_flight",
			Help: "Number of summarization jobs currently running.",
		},
	)

	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_reply_extractions_total",
			Help: "Total number of structured reply extractions by level.",
		},
		[]string{"level"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_embedding_cache_total",
			Help: "Embedding cache lookups by result.",
		},
		[]string{"result"},
	)

	// RateLimitDecisionsTotal counts limiter outcomes: allowed, rejected or failed_open.
	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mnemo_rate_limit_decisions_total",
			Help: "Rate limiter decisions by scope and outcome.",
		},
		[]string{"scope", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		MemoryRetrievalTotal,
		MemoryRetrievalDuration,
		MemoriesWrittenTotal,
		SummarizationsTotal,
		SummarizationJobsInFlight,
		ExtractionsTotal,
		EmbeddingCacheTotal,
		RateLimitDecisionsTotal,
	)
}
