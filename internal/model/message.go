package model

import "time"

// Direction はメッセージの方向を表す。
// 自アカウントのIDと送信者IDが一致する場合は送信扱いとする。
type Direction string

const (
	// DirectionReceived は受信メッセージ。
	DirectionReceived Direction = "recebida"
	// DirectionSent は自アカウントから送信されたメッセージ。
	DirectionSent Direction = "enviada"
)

// MediaDescriptor はメッセージに添付されたメディアの情報。
// 本体はストレージに保存され、ここには参照のみを持つ。
type MediaDescriptor struct {
	MimeType string `json:"mimetype"`
	Path     string `json:"caminho,omitempty"`
	FileName string `json:"arquivo,omitempty"`
	Size     int    `json:"tamanho"`
}

// MessageRecord は中継したメッセージの正規化レコード。
// 生成後は変更しない。
type MessageRecord struct {
	ID        string           `json:"id"`
	Account   string           `json:"instancia"`
	SenderID  string           `json:"de"`
	ChatID    string           `json:"chat,omitempty"`
	Direction Direction        `json:"direcao"`
	Text      *string          `json:"mensagem"`
	Media     *MediaDescriptor `json:"midia"`
	Timestamp time.Time        `json:"data"`
}
