// Package protocol はメッセージングプロトコルクライアントの能力インターフェースを定義する。
//
// ログインセッションマネージャとメッセージ中継はこのパッケージの型だけに依存し、
// 具体的なクライアントライブラリ（gotd/td）はprotocol/telegramのアダプタが実装する。
package protocol

import (
	"context"
	"time"
)

// Convention はトークン発行RPCのパラメータ命名規則。
// コラボレータのバージョンによって受け付ける命名が異なるため、
// マネージャは一次呼び出しの失敗時に別の規則で一度だけ再試行する。
type Convention int

const (
	// ConventionCamel はapiId / apiHash / exceptIds形式。
	ConventionCamel Convention = iota
	// ConventionSnake はapi_id / api_hash / except_ids形式。
	ConventionSnake
)

func (c Convention) String() string {
	switch c {
	case ConventionCamel:
		return "camel"
	case ConventionSnake:
		return "snake"
	default:
		return "unknown"
	}
}

// LoginTokenResult はトークン発行・取り込みRPCの結果を表すタグ付きユニオン。
// 実装はLoginToken、LoginTokenSuccess、LoginTokenMigrateTo、LoginTokenUnknownのみ。
type LoginTokenResult interface {
	isLoginTokenResult()
}

// LoginToken はスキャン待ちのログイントークン。
// Tokenはコラボレータ固有の表現のまま渡し、token.Extractでバイト列にする。
type LoginToken struct {
	Token   any
	Expires int64 // UNIX秒
}

// LoginTokenSuccess は認証完了を表す。
type LoginTokenSuccess struct {
	UserID string
}

// LoginTokenMigrateTo は別データセンターでトークンを取り込む必要があることを表す。
type LoginTokenMigrateTo struct {
	DCID  int
	Token []byte
}

// LoginTokenUnknown は想定外の応答。Rawは診断用にそのままWebhookへ送る。
type LoginTokenUnknown struct {
	Raw any
}

func (LoginToken) isLoginTokenResult()          {}
func (LoginTokenSuccess) isLoginTokenResult()   {}
func (LoginTokenMigrateTo) isLoginTokenResult() {}
func (LoginTokenUnknown) isLoginTokenResult()   {}

// Update はクライアントのイベントディスパッチから届く更新のタグ付きユニオン。
type Update interface {
	isUpdate()
}

// LoginTokenUpdate はログイントークンがスキャンされたことを示す更新。
type LoginTokenUpdate struct{}

// MessageUpdate は新着メッセージの更新。
type MessageUpdate struct {
	Message Message
}

// RawUpdate はコラボレータが分類できなかった更新。
// TypeNameは型タグ、Fieldsは上位のフィールド、Itemsはバッチ内の更新を持つ。
type RawUpdate struct {
	TypeName string
	Fields   map[string]any
	Items    []Update
}

func (LoginTokenUpdate) isUpdate() {}
func (MessageUpdate) isUpdate()    {}
func (RawUpdate) isUpdate()        {}

// Message はプロトコルメッセージの正規化前の表現。
type Message struct {
	ID       int64
	SenderID string
	ChatID   string
	Text     string
	Out      bool
	Date     time.Time
	Media    *Media
}

// Media はメッセージに添付されたメディア。Downloadで本体を取得する。
type Media struct {
	MimeType string
	FileName string
	Download func(ctx context.Context) ([]byte, error)
}

// File は送信するファイル。
type File struct {
	Name     string
	MimeType string
	Data     []byte
	Caption  string
}

// UpdateHandler は更新を受け取るハンドラー。
type UpdateHandler func(ctx context.Context, u Update)

// HandlerID はAddUpdateHandlerが返す登録ID。
type HandlerID uint64

// Client は1アカウント分の接続済みプロトコルクライアント。
type Client interface {
	// ExportLoginToken はログイントークン発行RPCを呼び出す。
	ExportLoginToken(ctx context.Context, conv Convention) (LoginTokenResult, error)
	// ImportLoginToken は移行先データセンターでトークンを取り込む。
	ImportLoginToken(ctx context.Context, dcID int, token []byte) (LoginTokenResult, error)
	// Authorized はセッションが認証済みかを確認する。
	Authorized(ctx context.Context) (bool, error)
	// SaveSession は再接続に使える不透明なセッション文字列を返す。
	SaveSession(ctx context.Context) (string, error)
	// SelfID は自アカウントの送信者IDを返す。
	SelfID(ctx context.Context) (string, error)
	// SendText はテキストメッセージを送信する。
	SendText(ctx context.Context, peer, text string) error
	// SendFile はファイルを送信する。
	SendFile(ctx context.Context, peer string, file File) error
	// AddUpdateHandler は更新ハンドラーを登録する。
	AddUpdateHandler(h UpdateHandler) HandlerID
	// RemoveUpdateHandler はハンドラーの登録を解除する。
	// 実行中のハンドラーの完了を待ってはならない（ハンドラー内から呼ばれるため）。
	RemoveUpdateHandler(id HandlerID)
	// Connected は接続中かどうかを返す。
	Connected() bool
	// Disconnect は接続を解放する。
	Disconnect(ctx context.Context) error
}

// DialRequest は接続要求。Sessionが空でなければ保存済みセッションで再接続する。
type DialRequest struct {
	Name    string
	Session string
}

// Dialer はアカウントごとのクライアントを生成して接続する。
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Client, error)
}
