package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/styling"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"github.com/hitoshi/telegate/internal/protocol"
	"github.com/hitoshi/telegate/internal/worker"
)

// Client はgotdクライアント1つ分のprotocol.Client実装。
type Client struct {
	name    string
	appID   int
	appHash string
	logger  *slog.Logger
	tg      *telegram.Client
	storage *memoryStorage

	ctx       context.Context
	cancel    context.CancelFunc
	ready     chan struct{}
	done      chan struct{}
	runErr    error
	connected atomic.Bool

	mu       sync.RWMutex
	nextID   protocol.HandlerID
	handlers map[protocol.HandlerID]protocol.UpdateHandler
}

// compile-time interface check
var _ protocol.Client = (*Client)(nil)

// run はctxがキャンセルされるまでクライアントを動かす。
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.connected.Store(false)

	c.runErr = c.tg.Run(ctx, func(ctx context.Context) error {
		c.connected.Store(true)
		close(c.ready)
		<-ctx.Done()
		return nil
	})
	if c.runErr != nil && !errors.Is(c.runErr, context.Canceled) {
		c.logger.Warn("Telegramクライアントが停止しました",
			slog.String("account", c.name),
			slog.String("error", c.runErr.Error()),
		)
	}
	if c.runErr == nil {
		c.runErr = errors.New("client stopped")
	}
}

// ExportLoginToken はauth.exportLoginTokenを呼び出す。
// gotdは型付きリクエストを生成するため、命名規則によってリクエストは変わらない。
func (c *Client) ExportLoginToken(ctx context.Context, _ protocol.Convention) (protocol.LoginTokenResult, error) {
	res, err := c.tg.API().AuthExportLoginToken(ctx, &tg.AuthExportLoginTokenRequest{
		APIID:   c.appID,
		APIHash: c.appHash,
	})
	if err != nil {
		return nil, err
	}
	return convertLoginToken(res), nil
}

// ImportLoginToken は移行先データセンターへ切り替えてからトークンを取り込む。
func (c *Client) ImportLoginToken(ctx context.Context, dcID int, token []byte) (protocol.LoginTokenResult, error) {
	if err := c.tg.MigrateTo(ctx, dcID); err != nil {
		return nil, fmt.Errorf("failed to migrate to dc %d: %w", dcID, err)
	}
	res, err := c.tg.API().AuthImportLoginToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return convertLoginToken(res), nil
}

// Authorized は認証済みかどうかを返す。
func (c *Client) Authorized(ctx context.Context) (bool, error) {
	status, err := c.tg.Auth().Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Authorized, nil
}

// SaveSession は現在のセッションデータを文字列で返す。
func (c *Client) SaveSession(_ context.Context) (string, error) {
	return c.storage.encode(), nil
}

// SelfID は自アカウントのユーザーIDを返す。
func (c *Client) SelfID(ctx context.Context) (string, error) {
	self, err := c.tg.Self(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(self.ID, 10), nil
}

// SendText はテキストを送信する。宛先はユーザー名または電話番号。
func (c *Client) SendText(ctx context.Context, peer, text string) error {
	sender := message.NewSender(c.tg.API())
	_, err := sender.Resolve(normalizePeer(peer)).Text(ctx, text)
	return err
}

// SendFile はファイルをアップロードして送信する。
// image/*は写真、それ以外はドキュメントとして送る。
func (c *Client) SendFile(ctx context.Context, peer string, file protocol.File) error {
	api := c.tg.API()
	uploaded, err := uploader.NewUploader(api).FromBytes(ctx, file.Name, file.Data)
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}

	var caption []message.StyledTextOption
	if file.Caption != "" {
		caption = append(caption, styling.Plain(file.Caption))
	}

	var media message.MediaOption
	if strings.HasPrefix(file.MimeType, "image/") {
		media = message.UploadedPhoto(uploaded, caption...)
	} else {
		media = message.UploadedDocument(uploaded, caption...).
			MIME(file.MimeType).
			Filename(file.Name)
	}

	_, err = message.NewSender(api).Resolve(normalizePeer(peer)).Media(ctx, media)
	return err
}

// AddUpdateHandler は更新ハンドラーを登録する。
func (c *Client) AddUpdateHandler(h protocol.UpdateHandler) protocol.HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[c.nextID] = h
	return c.nextID
}

// RemoveUpdateHandler は登録を解除する。実行中のハンドラーは待たない。
func (c *Client) RemoveUpdateHandler(id protocol.HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, id)
}

// Connected は接続中かどうかを返す。
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Disconnect はクライアントを停止し、終了を待つ。
func (c *Client) Disconnect(ctx context.Context) error {
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleUpdates はgotdの更新を変換して登録済みハンドラーに配る。
// ハンドラーはRPCを呼ぶため、受信ループを塞がないよう別goroutineで実行する。
func (c *Client) handleUpdates(_ context.Context, u tg.UpdatesClass) error {
	updates := convertUpdates(u, c.downloadFunc)
	if len(updates) == 0 {
		return nil
	}

	c.mu.RLock()
	handlers := make([]protocol.UpdateHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, update := range updates {
		for _, h := range handlers {
			worker.Go(c.logger, "telegram-update:"+c.name, func() {
				h(c.ctx, update)
			})
		}
	}
	return nil
}

// normalizePeer は数字だけの宛先を電話番号として解決できる形にする。
func normalizePeer(peer string) string {
	peer = strings.TrimSpace(peer)
	if peer == "" || strings.HasPrefix(peer, "+") || strings.HasPrefix(peer, "@") {
		return peer
	}
	if _, err := strconv.ParseUint(peer, 10, 64); err == nil {
		return "+" + peer
	}
	return peer
}
