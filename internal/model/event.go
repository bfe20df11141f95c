package model

import (
	"encoding/json"
	"time"
)

// Action はWebhookイベントの種別（acao）を表す。
type Action string

// Webhookイベントカタログ
const (
	ActionConnectionRestored     Action = "conexao_restaurada"
	ActionRestorationFailed      Action = "restauracao_falhou"
	ActionQRCodeGenerated        Action = "qr_code_gerado"
	ActionConnectionEstablished  Action = "conexao_estabelecida"
	ActionExportLoginTokenError  Action = "erro_export_login_token"
	ActionConfirmExportError     Action = "erro_confirm_export"
	ActionImportLoginTokenError  Action = "erro_import_login_token"
	ActionUnexpectedConfirmation Action = "resposta_inesperada_confirmar_token"
	ActionMessageReceived        Action = "mensagem_recebida"
	ActionMessageSent            Action = "mensagem_enviada"
	ActionMediaReceived          Action = "midia_recebida"
	ActionMediaSent              Action = "midia_enviada"
	ActionDisconnected           Action = "desconectado"
	ActionInstanceError          Action = "erro_instancia"
)

// isoLayout はWebhookのdataフィールドに使うISO-8601形式（ミリ秒、UTC）。
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// WebhookEvent はWebhookで送信するイベント。
// ワイヤ上ではacao、nome、dataとFieldsをフラットなJSONオブジェクトにする。
type WebhookEvent struct {
	Action    Action
	Name      string
	Fields    map[string]any
	Timestamp time.Time
}

// NewWebhookEvent はWebhookEventを生成する。
func NewWebhookEvent(action Action, name string, at time.Time, fields map[string]any) WebhookEvent {
	if fields == nil {
		fields = map[string]any{}
	}
	return WebhookEvent{
		Action:    action,
		Name:      name,
		Fields:    fields,
		Timestamp: at,
	}
}

// MarshalJSON はイベントをフラットなJSONに変換する。
// acao、nome、dataはFieldsより優先される。
func (e WebhookEvent) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["acao"] = string(e.Action)
	out["nome"] = e.Name
	out["data"] = e.Timestamp.UTC().Format(isoLayout)
	return json.Marshal(out)
}
