package relay

import (
	"context"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/hitoshi/telegate/internal/model"
	"github.com/hitoshi/telegate/internal/protocol"
	"github.com/hitoshi/telegate/internal/storage"
)

// ClientProvider は認証済みアカウントの接続を返す。login.Managerが満たす。
type ClientProvider interface {
	Client(name string) (protocol.Client, model.Account, error)
}

// MediaPayload は送信するメディア。Base64はdata URL形式でもよい。
type MediaPayload struct {
	Base64   string
	MimeType string
}

// SendRequest は送信要求。
type SendRequest struct {
	Account string
	To      string
	Text    string
	Media   *MediaPayload
}

// Sender は認証済みアカウントからメッセージを送信する。
type Sender struct {
	clients ClientProvider
	relay   *Relay
}

// NewSender はSenderを生成する。保存とWebhook通知はrelayの設定を共有する。
func NewSender(clients ClientProvider, relay *Relay) *Sender {
	return &Sender{clients: clients, relay: relay}
}

// Send はテキストまたはメディアを送信し、送信イベントを通知する。
// 入力不備はVALIDATION_ERROR、未登録・未認証はクライアント取得時のAPIError、
// 送信失敗はSEND_FAILEDを返す。
func (s *Sender) Send(ctx context.Context, req SendRequest) error {
	req.Account = strings.TrimSpace(req.Account)
	req.To = strings.TrimSpace(req.To)
	if req.Account == "" || req.To == "" {
		return model.NewValidationError("nome e number são obrigatórios.")
	}
	if req.Text == "" && req.Media == nil {
		return model.NewValidationError("Informe message ou midia.")
	}

	var data []byte
	if req.Media != nil {
		if strings.TrimSpace(req.Media.MimeType) == "" {
			return model.NewValidationError("midia.mimetype é obrigatório.")
		}
		decoded, err := decodeBase64(req.Media.Base64)
		if err != nil || len(decoded) == 0 {
			return model.NewValidationError("midia.base64 inválido.")
		}
		data = decoded
	}

	client, account, err := s.clients.Client(req.Account)
	if err != nil {
		return err
	}

	if req.Media != nil {
		return s.sendMedia(ctx, client, account, req, data)
	}
	return s.sendText(ctx, client, account, req)
}

func (s *Sender) sendText(ctx context.Context, client protocol.Client, account model.Account, req SendRequest) error {
	if err := client.SendText(ctx, req.To, req.Text); err != nil {
		s.relay.logger.Error("メッセージの送信に失敗しました",
			slog.String("account", account.Name),
			slog.String("to", req.To),
			slog.String("error", err.Error()),
		)
		return model.NewSendFailedError()
	}

	s.relay.emit(account, model.ActionMessageSent, map[string]any{
		"para":      req.To,
		"mensagem":  req.Text,
		"instancia": account.Name,
	})
	return nil
}

func (s *Sender) sendMedia(ctx context.Context, client protocol.Client, account model.Account, req SendRequest, data []byte) error {
	saved, err := s.relay.store.Save(ctx, storage.FolderSent, req.Media.MimeType, data)
	if err != nil {
		s.relay.logger.Error("送信メディアの保存に失敗しました",
			slog.String("account", account.Name),
			slog.String("error", err.Error()),
		)
		return err
	}

	file := protocol.File{
		Name:     saved.FileName,
		MimeType: req.Media.MimeType,
		Data:     data,
		Caption:  req.Text,
	}
	if err := client.SendFile(ctx, req.To, file); err != nil {
		s.relay.logger.Error("メディアの送信に失敗しました",
			slog.String("account", account.Name),
			slog.String("to", req.To),
			slog.String("error", err.Error()),
		)
		return model.NewSendFailedError()
	}

	fields := map[string]any{
		"para":      req.To,
		"mimetype":  req.Media.MimeType,
		"arquivo":   saved.FileName,
		"caminho":   saved.Path,
		"instancia": account.Name,
	}
	if req.Text != "" {
		fields["mensagem"] = req.Text
	}
	addInlineMedia(fields, data, s.relay.opts.InlineMaxBytes)
	s.relay.emit(account, model.ActionMediaSent, fields)
	return nil
}

// decodeBase64 は標準base64を復号する。"data:<mime>;base64,"の接頭辞は取り除く。
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
