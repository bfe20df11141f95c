// Package webhook はイベントをWebhook URLへ少なくとも1回配信する。
//
// Notifierは1件のイベントを有限回のリトライで送信し、
// Dispatcherはそれを非同期・並列数制限付きで実行する。
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/telegate/internal/clock"
	"github.com/hitoshi/telegate/internal/metrics"
	"github.com/hitoshi/telegate/internal/model"
)

const (
	// DefaultTimeout は1回の送信のタイムアウト。
	DefaultTimeout = 15 * time.Second
	// DefaultRetryDelay は失敗した送信の次の試行までの待機時間。
	DefaultRetryDelay = 2 * time.Second
	// DefaultMaxAttempts は1イベントあたりの最大送信回数。
	DefaultMaxAttempts = 3

	userAgent      = "Telegate/1.0 Webhook"
	deliveryHeader = "X-Telegate-Delivery"
	// maxDrainBytes はコネクション再利用のために読み捨てるレスポンスの上限。
	maxDrainBytes = 64 * 1024
)

// DeliveryFailure は全ての試行が失敗したことを表す。
type DeliveryFailure struct {
	URL      string
	Action   model.Action
	Attempts int
	Err      error
}

func (e *DeliveryFailure) Error() string {
	return fmt.Sprintf("webhook %s to %s failed after %d attempts: %v", e.Action, e.URL, e.Attempts, e.Err)
}

func (e *DeliveryFailure) Unwrap() error {
	return e.Err
}

// StatusError は2xx以外の応答を表す。
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

// Config はNotifierの送信パラメータ。
type Config struct {
	Timeout    time.Duration
	RetryDelay time.Duration
}

// Notifier はWebhookのHTTP送信を行う。
type Notifier struct {
	httpClient *http.Client
	clock      clock.Clock
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	timeout    time.Duration
	retryDelay time.Duration
}

// NewNotifier はNotifierを生成する。
// httpClientにはSSRF防止付きのクライアントを渡してもよい。
func NewNotifier(httpClient *http.Client, clk clock.Clock, collector metrics.MetricsCollector, logger *slog.Logger, cfg Config) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Notifier{
		httpClient: httpClient,
		clock:      clk,
		metrics:    collector,
		logger:     logger,
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
	}
}

// Notify はイベントをurlへPOSTする。2xx応答で成功とし、最大maxAttempts回試行する。
// urlが空の場合は何もしない。全試行が失敗した場合は*DeliveryFailureを返す。
func (n *Notifier) Notify(ctx context.Context, url string, event model.WebhookEvent, maxAttempts int) error {
	if url == "" {
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	deliveryID := uuid.NewString()
	start := time.Now()
	var lastErr error
	attempts := 0

retry:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		lastErr = n.post(ctx, url, deliveryID, body)
		if lastErr == nil {
			n.metrics.RecordWebhookAttempt(metrics.OutcomeSuccess)
			n.metrics.RecordWebhookDelivery(metrics.OutcomeSuccess, time.Since(start))
			n.logger.Debug("Webhookを送信しました",
				slog.String("action", string(event.Action)),
				slog.String("account", event.Name),
				slog.String("delivery_id", deliveryID),
				slog.Int("attempt", attempt),
			)
			return nil
		}

		n.metrics.RecordWebhookAttempt(metrics.OutcomeFailure)
		n.logger.Warn("Webhookの送信に失敗しました",
			slog.String("action", string(event.Action)),
			slog.String("account", event.Name),
			slog.String("delivery_id", deliveryID),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.String("error", lastErr.Error()),
		)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			break retry
		case <-n.clock.After(n.retryDelay):
		}
	}

	n.metrics.RecordWebhookDelivery(metrics.OutcomeFailure, time.Since(start))
	failure := &DeliveryFailure{URL: url, Action: event.Action, Attempts: attempts, Err: lastErr}
	n.logger.Error("Webhookの配信を断念しました",
		slog.String("action", string(event.Action)),
		slog.String("account", event.Name),
		slog.String("delivery_id", deliveryID),
		slog.Int("attempts", attempts),
		slog.String("error", lastErr.Error()),
	)
	return failure
}

// post は1回分のHTTP送信を行う。
func (n *Notifier) post(ctx context.Context, url, deliveryID string, body []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(deliveryHeader, deliveryID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}
