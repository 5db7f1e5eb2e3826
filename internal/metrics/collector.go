package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 生成指标
	generationRequestsTotal   *prometheus.CounterVec
	generationDuration        *prometheus.HistogramVec
	generationSamplesTotal    *prometheus.CounterVec
	generationTokensEstimated *prometheus.CounterVec

	// 运行指标
	runsTotal     *prometheus.CounterVec
	runsActive    prometheus.Gauge
	topicsPerRun  prometheus.Histogram
	samplesSaved  prometheus.Counter

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 生成指标
	c.generationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_requests_total",
			Help:      "Total number of task-runner generation requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_request_duration_seconds",
			Help:      "Task-runner generation request duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	c.generationSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_samples_total",
			Help:      "Total number of samples produced by generation requests",
		},
		[]string{"provider", "model"},
	)

	c.generationTokensEstimated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_tokens_estimated_total",
			Help:      "Estimated token count of generated samples",
		},
		[]string{"provider", "model"},
	)

	// 运行指标
	c.runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of generation runs",
		},
		[]string{"status"},
	)

	c.runsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Number of generation runs currently in flight",
		},
	)

	c.topicsPerRun = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_topics",
			Help:      "Number of target topics per generation run",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	c.samplesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_saved_total",
			Help:      "Total number of samples persisted by users",
		},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🧪 生成指标记录
// =============================================================================

// ObserveGeneration 记录一次 task-runner 生成请求。实现 gen.Observer。
func (c *Collector) ObserveGeneration(provider, model, status string, duration time.Duration, samples int) {
	c.generationRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.generationDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if samples > 0 {
		c.generationSamplesTotal.WithLabelValues(provider, model).Add(float64(samples))
	}
}

// RecordEstimatedTokens 记录生成样本的估算 token 数
func (c *Collector) RecordEstimatedTokens(provider, model string, tokens int) {
	c.generationTokensEstimated.WithLabelValues(provider, model).Add(float64(tokens))
}

// =============================================================================
// 🏃 运行指标记录
// =============================================================================

// RunStarted 记录运行开始
func (c *Collector) RunStarted(topics int) {
	c.runsActive.Inc()
	c.topicsPerRun.Observe(float64(topics))
}

// RunFinished 记录运行结束
func (c *Collector) RunFinished(status string) {
	c.runsActive.Dec()
	c.runsTotal.WithLabelValues(status).Inc()
}

// RecordSamplesSaved 记录样本落库数量
func (c *Collector) RecordSamplesSaved(count int) {
	c.samplesSaved.Add(float64(count))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
