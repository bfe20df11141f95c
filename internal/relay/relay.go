// Package relay は認証済みアカウントのメッセージをWebhookとメッセージログに中継する。
package relay

import (
	"context"
	"encoding/base64"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/telegate/internal/clock"
	"github.com/hitoshi/telegate/internal/metrics"
	"github.com/hitoshi/telegate/internal/model"
	"github.com/hitoshi/telegate/internal/protocol"
	"github.com/hitoshi/telegate/internal/repository"
	"github.com/hitoshi/telegate/internal/security"
	"github.com/hitoshi/telegate/internal/storage"
	"github.com/hitoshi/telegate/internal/worker"
)

// EventSink はWebhookイベントの送信先。
type EventSink interface {
	Emit(url string, event model.WebhookEvent)
}

// Options は中継の任意設定。
type Options struct {
	// InlineMaxBytes を超えるメディアはWebhookにbase64を含めない。0は無制限。
	InlineMaxBytes int
	// Sanitizer が設定されている場合、受信テキストからマークアップを除去する。
	Sanitizer security.TextSanitizerService
}

// Relay はプロトコルのメッセージ更新を正規化して通知する。
type Relay struct {
	store   storage.MediaStore
	log     repository.MessageLog
	events  EventSink
	metrics metrics.MetricsCollector
	clock   clock.Clock
	logger  *slog.Logger
	opts    Options
}

// New はRelayを生成する。
func New(store storage.MediaStore, log repository.MessageLog, events EventSink, collector metrics.MetricsCollector, clk clock.Clock, logger *slog.Logger, opts Options) *Relay {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Relay{
		store:   store,
		log:     log,
		events:  events,
		metrics: collector,
		clock:   clk,
		logger:  logger,
		opts:    opts,
	}
}

// Handler はアカウントのメッセージ更新ハンドラーを返す。
// メッセージ以外の更新は無視する。
func (r *Relay) Handler(account model.Account) protocol.UpdateHandler {
	return func(ctx context.Context, u protocol.Update) {
		var msg protocol.Message
		switch v := u.(type) {
		case protocol.MessageUpdate:
			msg = v.Message
		case *protocol.MessageUpdate:
			if v == nil {
				return
			}
			msg = v.Message
		default:
			return
		}
		worker.Run(r.logger, "relay:"+account.Name, func() {
			r.relay(ctx, account, msg)
		})
	}
}

// relay は1件のメッセージを記録して通知する。
func (r *Relay) relay(ctx context.Context, account model.Account, msg protocol.Message) {
	direction := model.DirectionReceived
	if msg.Out || (account.SelfID != "" && msg.SenderID == account.SelfID) {
		direction = model.DirectionSent
	}

	at := msg.Date
	if at.IsZero() {
		at = r.clock.Now()
	}

	record := model.MessageRecord{
		ID:        uuid.NewString(),
		Account:   account.Name,
		SenderID:  msg.SenderID,
		ChatID:    msg.ChatID,
		Direction: direction,
		Timestamp: at,
	}

	text := msg.Text
	if r.opts.Sanitizer != nil && direction == model.DirectionReceived {
		text = r.opts.Sanitizer.Sanitize(text)
	}
	if text != "" {
		record.Text = &text
	}

	if msg.Media != nil && msg.Media.Download != nil {
		if media, ok := r.relayMedia(ctx, account, msg, direction); ok {
			record.Media = media
		}
	}

	if text != "" {
		action := model.ActionMessageReceived
		if direction == model.DirectionSent {
			action = model.ActionMessageSent
		}
		r.emit(account, action, map[string]any{
			"de":       msg.SenderID,
			"mensagem": text,
		})
	}

	r.log.Append(record)
	r.metrics.RecordMessageRelayed(string(direction))
}

// relayMedia はメディアをダウンロードして保存し、Webhookで通知する。
func (r *Relay) relayMedia(ctx context.Context, account model.Account, msg protocol.Message, direction model.Direction) (*model.MediaDescriptor, bool) {
	data, err := msg.Media.Download(ctx)
	if err != nil {
		r.logger.Error("メディアのダウンロードに失敗しました",
			slog.String("account", account.Name),
			slog.Int64("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	mimeType := msg.Media.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	folder := storage.FolderReceived
	action := model.ActionMediaReceived
	if direction == model.DirectionSent {
		folder = storage.FolderSent
		action = model.ActionMediaSent
	}

	saved, err := r.store.Save(ctx, folder, mimeType, data)
	if err != nil {
		r.logger.Error("メディアの保存に失敗しました",
			slog.String("account", account.Name),
			slog.Int64("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
		return nil, false
	}

	fields := map[string]any{
		"mimetype": mimeType,
		"arquivo":  saved.FileName,
		"caminho":  saved.Path,
		"de":       msg.SenderID,
	}
	addInlineMedia(fields, data, r.opts.InlineMaxBytes)
	r.emit(account, action, fields)

	return &model.MediaDescriptor{
		MimeType: mimeType,
		Path:     saved.Path,
		FileName: saved.FileName,
		Size:     saved.Size,
	}, true
}

func (r *Relay) emit(account model.Account, action model.Action, fields map[string]any) {
	r.events.Emit(account.WebhookURL, model.NewWebhookEvent(action, account.Name, r.clock.Now(), fields))
}

// addInlineMedia はメディア本体をbase64でフィールドに加える。
// 上限を超える場合はbase64_omitidoだけを設定する。
func addInlineMedia(fields map[string]any, data []byte, maxBytes int) {
	if maxBytes > 0 && len(data) > maxBytes {
		fields["base64_omitido"] = true
		return
	}
	fields["base64"] = base64.StdEncoding.EncodeToString(data)
}
