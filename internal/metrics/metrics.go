// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AuthRecorder は認証まわりのメトリクス記録のインターフェース。
// 認証サービス、ルートゲート、クリーンアップワーカーから利用する。
type AuthRecorder interface {
	RecordTokenRejected(kind, reason string)
	RecordCacheLookup(hit bool)
	RecordResolution(outcome string)
	RecordSignIn(outcome string)
	RecordSignOut()
	RecordStoreLatency(op string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordCleanup(kind string, deleted int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokenRejected *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	resolutions   *prometheus.CounterVec
	signIns       *prometheus.CounterVec
	signOuts      prometheus.Counter
	storeLatency  *prometheus.HistogramVec
	httpStatus    *prometheus.CounterVec
	cleanedUp     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokenRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "superblog_token_rejected_total",
			Help: "検証に失敗したトークン数（種別・理由別）",
		}, []string{"kind", "reason"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "superblog_session_cache_lookups_total",
			Help: "セッションキャッシュの参照数（hit/miss別）",
		}, []string{"result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "superblog_session_resolutions_total",
			Help: "セッション解決の結果別件数",
		}, []string{"outcome"}),
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "superblog_sign_ins_total",
			Help: "サインインの結果別件数",
		}, []string{"outcome"}),
		signOuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "superblog_sign_outs_total",
			Help: "サインアウトの合計数",
		}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "superblog_store_latency_seconds",
			Help:    "認証ストア呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "superblog_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleanedUp: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "superblog_cleanup_deleted_total",
			Help: "クリーンアップで削除した行数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.tokenRejected,
		c.cacheLookups,
		c.resolutions,
		c.signIns,
		c.signOuts,
		c.storeLatency,
		c.httpStatus,
		c.cleanedUp,
	)

	return c
}

// RecordTokenRejected は検証に失敗したトークンを記録する。kindは"session"または"cache"。
func (c *Collector) RecordTokenRejected(kind, reason string) {
	c.tokenRejected.WithLabelValues(kind, reason).Inc()
}

// RecordCacheLookup はセッションキャッシュの参照結果を記録する。
func (c *Collector) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

// RecordResolution はセッション解決の結果を記録する。
func (c *Collector) RecordResolution(outcome string) {
	c.resolutions.WithLabelValues(outcome).Inc()
}

// RecordSignIn はサインインの結果を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIns.WithLabelValues(outcome).Inc()
}

// RecordSignOut はサインアウトを記録する。
func (c *Collector) RecordSignOut() {
	c.signOuts.Inc()
}

// RecordStoreLatency はストア呼び出しのレイテンシを記録する。
func (c *Collector) RecordStoreLatency(op string, duration time.Duration) {
	c.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCleanup はクリーンアップで削除した行数を記録する。
func (c *Collector) RecordCleanup(kind string, deleted int64) {
	c.cleanedUp.WithLabelValues(kind).Add(float64(deleted))
}

// Nop は何も記録しないAuthRecorder。
type Nop struct{}

func (Nop) RecordTokenRejected(string, string) {}
func (Nop) RecordCacheLookup(bool) {}
func (Nop) RecordResolution(string) {}
func (Nop) RecordSignIn(string) {}
func (Nop) RecordSignOut() {}
func (Nop) RecordStoreLatency(string, time.Duration) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordCleanup(string, int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ AuthRecorder = (*Collector)(nil)
	_ AuthRecorder = Nop{}
)
