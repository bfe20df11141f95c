// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ログインマネージャ、Webhook、メッセージ中継から利用する。
type MetricsCollector interface {
	RecordQRCodeGenerated()
	RecordLogin(method string)
	RecordLoginTokenFailure(stage string)
	RecordWebhookAttempt(outcome string)
	RecordWebhookDelivery(outcome string, duration time.Duration)
	RecordMessageRelayed(direction string)
	SetActiveAccounts(n int)
}

// ログイン方法のラベル値
const (
	LoginMethodQR       = "qr"
	LoginMethodRestored = "restored"
)

// Webhook結果のラベル値
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	qrGenerated     prometheus.Counter
	logins          *prometheus.CounterVec
	loginTokenFail  *prometheus.CounterVec
	webhookAttempts *prometheus.CounterVec
	webhookDelivery *prometheus.CounterVec
	webhookLatency  prometheus.Histogram
	messagesRelayed *prometheus.CounterVec
	activeAccounts  prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		qrGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telegate_qr_codes_generated_total",
			Help: "生成したログインQRコードの合計数",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telegate_logins_total",
			Help: "認証に成功したアカウント数（方法別）",
		}, []string{"method"}),
		loginTokenFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telegate_login_token_failures_total",
			Help: "ログイントークン処理の失敗数（段階別）",
		}, []string{"stage"}),
		webhookAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telegate_webhook_attempts_total",
			Help: "Webhook送信試行数（結果別）",
		}, []string{"outcome"}),
		webhookDelivery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telegate_webhook_deliveries_total",
			Help: "Webhook配信の最終結果数",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telegate_webhook_delivery_seconds",
			Help:    "リトライを含むWebhook配信時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		messagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telegate_messages_relayed_total",
			Help: "中継したメッセージ数（方向別）",
		}, []string{"direction"}),
		activeAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telegate_active_accounts",
			Help: "レジストリに登録されているアカウント数",
		}),
	}

	reg.MustRegister(
		c.qrGenerated,
		c.logins,
		c.loginTokenFail,
		c.webhookAttempts,
		c.webhookDelivery,
		c.webhookLatency,
		c.messagesRelayed,
		c.activeAccounts,
	)

	return c
}

// RecordQRCodeGenerated はQRコード生成を記録する。
func (c *Collector) RecordQRCodeGenerated() {
	c.qrGenerated.Inc()
}

// RecordLogin は認証成功を記録する。
func (c *Collector) RecordLogin(method string) {
	c.logins.WithLabelValues(method).Inc()
}

// RecordLoginTokenFailure はトークン発行・確認・取り込みの失敗を記録する。
func (c *Collector) RecordLoginTokenFailure(stage string) {
	c.loginTokenFail.WithLabelValues(stage).Inc()
}

// RecordWebhookAttempt はWebhook送信の1試行を記録する。
func (c *Collector) RecordWebhookAttempt(outcome string) {
	c.webhookAttempts.WithLabelValues(outcome).Inc()
}

// RecordWebhookDelivery はWebhook配信の最終結果と所要時間を記録する。
func (c *Collector) RecordWebhookDelivery(outcome string, duration time.Duration) {
	c.webhookDelivery.WithLabelValues(outcome).Inc()
	c.webhookLatency.Observe(duration.Seconds())
}

// RecordMessageRelayed は中継したメッセージを記録する。
func (c *Collector) RecordMessageRelayed(direction string) {
	c.messagesRelayed.WithLabelValues(direction).Inc()
}

// SetActiveAccounts はレジストリのアカウント数を設定する。
func (c *Collector) SetActiveAccounts(n int) {
	c.activeAccounts.Set(float64(n))
}

// Nop は何も記録しないMetricsCollector。メトリクスが不要なテストや構成で使う。
type Nop struct{}

func (Nop) RecordQRCodeGenerated()                      {}
func (Nop) RecordLogin(string)                          {}
func (Nop) RecordLoginTokenFailure(string)              {}
func (Nop) RecordWebhookAttempt(string)                 {}
func (Nop) RecordWebhookDelivery(string, time.Duration) {}
func (Nop) RecordMessageRelayed(string)                 {}
func (Nop) SetActiveAccounts(int)                       {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
