// Package telegram はgotd/tdを使ったprotocol.Dialerとprotocol.Clientの実装を提供する。
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gotd/td/telegram"
	"go.uber.org/zap"

	"github.com/hitoshi/telegate/internal/protocol"
)

// Config はMTProtoクライアントの設定。
type Config struct {
	AppID   int
	AppHash string
	// Logger はgotd内部のログ出力先。nilの場合は出力しない。
	Logger *zap.Logger
}

// Dialer はアカウントごとにgotdクライアントを起動する。
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// compile-time interface check
var _ protocol.Dialer = (*Dialer)(nil)

// NewDialer はDialerを生成する。
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial はクライアントを起動し、接続が確立するまで待つ。
// ctxは接続待ちだけに使い、接続後の寿命はDisconnectで終わらせる。
func (d *Dialer) Dial(ctx context.Context, req protocol.DialRequest) (protocol.Client, error) {
	if d.cfg.AppID == 0 || d.cfg.AppHash == "" {
		return nil, errors.New("telegram api credentials are not configured")
	}

	storage, err := newMemoryStorage(req.Session)
	if err != nil {
		return nil, err
	}

	c := &Client{
		name:     req.Name,
		appID:    d.cfg.AppID,
		appHash:  d.cfg.AppHash,
		logger:   d.logger,
		storage:  storage,
		handlers: make(map[protocol.HandlerID]protocol.UpdateHandler),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.tg = telegram.NewClient(d.cfg.AppID, d.cfg.AppHash, telegram.Options{
		Logger:         d.cfg.Logger.Named(req.Name),
		SessionStorage: storage,
		UpdateHandler:  telegram.UpdateHandlerFunc(c.handleUpdates),
	})

	runCtx, cancel := context.WithCancel(context.Background())
	c.ctx, c.cancel = runCtx, cancel
	go c.run(runCtx)

	select {
	case <-c.ready:
		d.logger.Info("Telegramに接続しました", slog.String("account", req.Name))
		return c, nil
	case <-c.done:
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", c.runErr)
	case <-ctx.Done():
		cancel()
		<-c.done
		return nil, ctx.Err()
	}
}
