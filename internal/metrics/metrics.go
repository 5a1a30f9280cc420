package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchDuration 语义搜索耗时（编码 + 检索 + 关联）
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "moovie_search_duration_seconds",
		Help:    "Latency of semantic search requests",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// SearchResults 单次搜索返回条数
	SearchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "moovie_search_results",
		Help:    "Number of movies returned per semantic search",
		Buckets: prometheus.LinearBuckets(0, 5, 10),
	})

	EncodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moovie_encode_duration_seconds",
		Help:    "Latency of embedding encode calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"role", "backend"})

	// FallbackEncodes 使用降级向量的文本数
	FallbackEncodes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moovie_encoder_fallback_total",
		Help: "Texts encoded by the degraded fallback generator",
	})

	EncoderDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moovie_encoder_degraded",
		Help: "1 when the embedding model could not be loaded",
	})

	IndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "moovie_index_vectors",
		Help: "Number of vectors in the loaded index",
	})

	// IDMismatches 检索结果中无法映射回主库 ID 的条数
	IDMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moovie_search_id_mismatch_total",
		Help: "Search hits dropped because their ID did not resolve",
	})

	RecommendationStage = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moovie_recommendation_stage_total",
		Help: "Recommendations served per stage",
	}, []string{"stage"})
)
