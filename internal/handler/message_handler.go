package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/telegate/internal/model"
	"github.com/hitoshi/telegate/internal/relay"
)

// MessageSender は認証済みアカウントからメッセージを送信する。relay.Senderが満たす。
type MessageSender interface {
	Send(ctx context.Context, req relay.SendRequest) error
}

// MessageLister は中継済みメッセージを返す。repository.MessageLogが満たす。
type MessageLister interface {
	List() []model.MessageRecord
}

// MessageHandler はメッセージ送受信のHTTPハンドラー。
type MessageHandler struct {
	sender   MessageSender
	messages MessageLister
}

// NewMessageHandler はMessageHandlerを生成する。
func NewMessageHandler(sender MessageSender, messages MessageLister) *MessageHandler {
	return &MessageHandler{sender: sender, messages: messages}
}

// sendMessageRequest は送信リクエストのボディ。
type sendMessageRequest struct {
	Nome    string        `json:"nome"`
	Number  string        `json:"number"`
	Message string        `json:"message"`
	Midia   *mediaRequest `json:"midia,omitempty"`
}

type mediaRequest struct {
	Base64   string `json:"base64"`
	MimeType string `json:"mimetype"`
}

type sendMessageResponse struct {
	Status bool   `json:"status"`
	Msg    string `json:"msg"`
}

type receivedMessagesResponse struct {
	Total     int                   `json:"total"`
	Mensagens []model.MessageRecord `json:"mensagens"`
}

// SendMessage はテキストまたはメディアを送信する。
// セッションが存在しない場合も400を返す。
// POST /send-message
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	sendReq := relay.SendRequest{
		Account: req.Nome,
		To:      req.Number,
		Text:    req.Message,
	}
	if req.Midia != nil {
		sendReq.Media = &relay.MediaPayload{Base64: req.Midia.Base64, MimeType: req.Midia.MimeType}
	}

	if err := h.sender.Send(r.Context(), sendReq); err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeAccountNotFound {
			writeAPIErrorResponse(w, http.StatusBadRequest, apiErr)
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sendMessageResponse{Status: true, Msg: "Mensagem enviada"})
}

// ReceivedMessages は中継済みメッセージの一覧を返す。
// GET /received-messages
func (h *MessageHandler) ReceivedMessages(w http.ResponseWriter, r *http.Request) {
	records := h.messages.List()
	if records == nil {
		records = []model.MessageRecord{}
	}
	writeJSON(w, http.StatusOK, receivedMessagesResponse{
		Total:     len(records),
		Mensagens: records,
	})
}
