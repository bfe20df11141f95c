package webhook

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/telegate/internal/model"
	"github.com/hitoshi/telegate/internal/worker"
)

// Deliverer は1件のイベントを同期的に配信するインターフェース。
type Deliverer interface {
	Notify(ctx context.Context, url string, event model.WebhookEvent, maxAttempts int) error
}

// Dispatcher はイベント配信を非同期に実行する。
// 同時配信数はセマフォで制限し、Emitの呼び出し元をブロックしない。
// 配信順序は保証しない。
type Dispatcher struct {
	deliverer   Deliverer
	logger      *slog.Logger
	maxAttempts int
	sem         chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher はDispatcherを生成する。
// maxConcurrentが0以下の場合はデフォルト値32を使用する。
func NewDispatcher(deliverer Deliverer, logger *slog.Logger, maxAttempts, maxConcurrent int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		deliverer:   deliverer,
		logger:      logger,
		maxAttempts: maxAttempts,
		sem:         make(chan struct{}, maxConcurrent),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Emit はイベントの配信を開始してすぐに戻る。urlが空の場合は何もしない。
func (d *Dispatcher) Emit(url string, event model.WebhookEvent) {
	if url == "" {
		return
	}

	d.wg.Add(1)
	worker.Go(d.logger, "webhook:"+string(event.Action), func() {
		defer d.wg.Done()

		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			d.logger.Warn("シャットダウン中のためWebhookを破棄しました",
				slog.String("action", string(event.Action)),
				slog.String("account", event.Name),
			)
			return
		}
		defer func() { <-d.sem }()

		// 失敗はNotifier側でログに記録済み
		_ = d.deliverer.Notify(d.ctx, url, event, d.maxAttempts)
	})
}

// Wait は実行中の配信の完了を待つ。ctxが先に終了した場合は残りの配信を中断する。
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
