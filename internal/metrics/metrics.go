// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// 入退館サービス、照合ワーカー、通知ゲートウェイの各記録インターフェースを満たす。
type Collector struct {
	clockInSuccess   prometheus.Counter
	clockInDenied    *prometheus.CounterVec
	clockOut         prometheus.Counter
	sessionDuration  prometheus.Histogram
	jobRuns          *prometheus.CounterVec
	jobFailures      *prometheus.CounterVec
	notificationSent *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		clockInSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymgate_clockin_success_total",
			Help: "入館打刻成功の合計数",
		}),
		clockInDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymgate_clockin_denied_total",
			Help: "拒否理由コード別の入館打刻拒否数",
		}, []string{"code"}),
		clockOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gymgate_clockout_total",
			Help: "退館打刻の合計数",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gymgate_session_duration_minutes",
			Help:    "退館時に確定した滞在時間（分）",
			Buckets: []float64{15, 30, 60, 90, 120, 180, 240},
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymgate_job_runs_total",
			Help: "照合ジョブの実行回数",
		}, []string{"job"}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymgate_job_failures_total",
			Help: "照合ジョブの失敗回数",
		}, []string{"job"}),
		notificationSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gymgate_notifications_sent_total",
			Help: "種別ごとの通知配送依頼数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.clockInSuccess,
		c.clockInDenied,
		c.clockOut,
		c.sessionDuration,
		c.jobRuns,
		c.jobFailures,
		c.notificationSent,
	)

	return c
}

// RecordClockInSuccess は入館打刻の成功を記録する。
func (c *Collector) RecordClockInSuccess() {
	c.clockInSuccess.Inc()
}

// RecordClockInDenied は入館打刻の拒否を理由コード付きで記録する。
func (c *Collector) RecordClockInDenied(code string) {
	c.clockInDenied.WithLabelValues(code).Inc()
}

// RecordClockOut は退館打刻を記録する。
func (c *Collector) RecordClockOut() {
	c.clockOut.Inc()
}

// RecordSessionDuration は退館時に確定した滞在時間を記録する。
func (c *Collector) RecordSessionDuration(d time.Duration) {
	c.sessionDuration.Observe(d.Minutes())
}

// RecordJobRun は照合ジョブの実行を記録する。
func (c *Collector) RecordJobRun(job string) {
	c.jobRuns.WithLabelValues(job).Inc()
}

// RecordJobFailure は照合ジョブの失敗を記録する。
func (c *Collector) RecordJobFailure(job string) {
	c.jobFailures.WithLabelValues(job).Inc()
}

// RecordNotificationSent は通知配送依頼を種別付きで記録する。
func (c *Collector) RecordNotificationSent(kind string) {
	c.notificationSent.WithLabelValues(kind).Inc()
}

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
