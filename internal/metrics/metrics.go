// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// レート制限、AIアダプタ、HTTP層から利用する。
type MetricsCollector interface {
	RecordRateLimitCheck(apiType string, outcome string)
	RecordRateLimitInternalError(apiType string)
	RecordAIRequest(kind string, outcome string, duration time.Duration)
	RecordValidationFailure(kind string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	rateLimitChecks    *prometheus.CounterVec
	rateLimitInternal  *prometheus.CounterVec
	aiRequests         *prometheus.CounterVec
	aiLatency          *prometheus.HistogramVec
	validationFailures *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		rateLimitChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_ratelimit_checks_total",
			Help: "API種別と判定結果ごとのレート制限チェック数",
		}, []string{"api_type", "outcome"}),
		rateLimitInternal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_ratelimit_internal_errors_total",
			Help: "ストレージ障害によりfail-openしたレート制限チェック数",
		}, []string{"api_type"}),
		aiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_ai_requests_total",
			Help: "AIバックエンド呼び出しの合計数",
		}, []string{"kind", "outcome"}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adventure_ai_latency_seconds",
			Help:    "AIバックエンド呼び出しのレイテンシ（秒）",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"kind"}),
		validationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_validation_failures_total",
			Help: "AI応答のスキーマ検証失敗数",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adventure_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.rateLimitChecks,
		c.rateLimitInternal,
		c.aiRequests,
		c.aiLatency,
		c.validationFailures,
		c.httpStatus,
	)

	return c
}

// RecordRateLimitCheck はレート制限チェックの結果を記録する。
func (c *Collector) RecordRateLimitCheck(apiType string, outcome string) {
	c.rateLimitChecks.WithLabelValues(apiType, outcome).Inc()
}

// RecordRateLimitInternalError はfail-openしたチェックを記録する。
func (c *Collector) RecordRateLimitInternalError(apiType string) {
	c.rateLimitInternal.WithLabelValues(apiType).Inc()
}

// RecordAIRequest はAIバックエンド呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordAIRequest(kind string, outcome string, duration time.Duration) {
	c.aiRequests.WithLabelValues(kind, outcome).Inc()
	c.aiLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordValidationFailure はスキーマ検証失敗を記録する。
func (c *Collector) RecordValidationFailure(kind string) {
	c.validationFailures.WithLabelValues(kind).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordRateLimitCheck(string, string) {}
func (Nop) RecordRateLimitInternalError(string) {}
func (Nop) RecordAIRequest(string, string, time.Duration) {}
func (Nop) RecordValidationFailure(string) {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
