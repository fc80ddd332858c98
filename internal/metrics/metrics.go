// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値
const (
	LoginSuccess            = "success"
	LoginInvalidCredentials = "invalid_credentials"
	LoginLocked             = "locked"
	LoginLimitExceeded      = "limit_exceeded"
	LoginStoreUnavailable   = "store_unavailable"
	LoginError              = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証ゲートウェイ、セッション管理、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordLoginLatency(duration time.Duration)
	RecordAutoLock()
	RecordAuthFailure(reason string)
	RecordSessionsPurged(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins         *prometheus.CounterVec
	loginLatency   prometheus.Histogram
	autoLocks      prometheus.Counter
	authFailures   *prometheus.CounterVec
	sessionsPurged prometheus.Counter
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizary_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		loginLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wizary_login_latency_seconds",
			Help:    "ログイン処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		autoLocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wizary_account_auto_locks_total",
			Help: "同時セッション上限超過による自動ロック数",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizary_auth_failures_total",
			Help: "理由別のトークン認証失敗数",
		}, []string{"reason"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wizary_sessions_purged_total",
			Help: "クリーンアップで物理削除されたセッション数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wizary_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.loginLatency,
		c.autoLocks,
		c.authFailures,
		c.sessionsPurged,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン試行の結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordLoginLatency はログイン処理のレイテンシを記録する。
func (c *Collector) RecordLoginLatency(duration time.Duration) {
	c.loginLatency.Observe(duration.Seconds())
}

// RecordAutoLock は上限超過による自動ロックを記録する。
func (c *Collector) RecordAutoLock() {
	c.autoLocks.Inc()
}

// RecordAuthFailure はトークン認証失敗を理由別に記録する。
func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

// RecordSessionsPurged は物理削除したセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	if count > 0 {
		c.sessionsPurged.Add(float64(count))
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordLogin(string) {}
func (Nop) RecordLoginLatency(time.Duration) {}
func (Nop) RecordAutoLock() {}
func (Nop) RecordAuthFailure(string) {}
func (Nop) RecordSessionsPurged(int64) {}
func (Nop) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
