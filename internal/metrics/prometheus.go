package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "policy_chat_duration_seconds",
			Help:    "End-to-end message handling duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"route"},
	)

	ChatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_chat_messages_total",
			Help: "Total messages handled, by route",
		},
		[]string{"route"},
	)

	AbstentionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "policy_chat_abstentions_total",
			Help: "Total answers abstained for lack of grounding context",
		},
	)

	CoarseResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policy_chat_coarse_results",
			Help:    "Candidate sections returned by coarse retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	FineResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "policy_chat_fine_results",
			Help:    "Chunks returned by fine retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_chat_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_chat_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_chat_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "policy_chat_sessions_created_total",
			Help: "Total sessions minted by the server",
		},
	)
)

func Init() {
	prometheus.MustRegister(ChatDuration)
	prometheus.MustRegister(ChatTotal)
	prometheus.MustRegister(AbstentionTotal)
	prometheus.MustRegister(CoarseResults)
	prometheus.MustRegister(FineResults)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(SessionsCreated)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
