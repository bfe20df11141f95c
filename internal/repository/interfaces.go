// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/telegate/internal/model"
)

// CredentialRepository はアカウントごとのセッション文字列の永続化インターフェース。
// キーはアカウント名で、値は不透明な文字列として扱う。
type CredentialRepository interface {
	// Load は保存済みのセッション文字列を取得する。存在しない場合はfoundがfalse。
	Load(ctx context.Context, name string) (blob string, found bool, err error)

	// Save はセッション文字列を保存する。内容が変わらない場合は何もしない。
	Save(ctx context.Context, name, blob string) error

	// Delete は保存済みのセッション文字列を削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, name string) error
}

// MessageLog は中継したメッセージの追記専用ログのインターフェース。
type MessageLog interface {
	// Append はレコードを末尾に追加する。
	Append(record model.MessageRecord)

	// List は全レコードのコピーを追加順で返す。
	List() []model.MessageRecord

	// Len は保持しているレコード数を返す。
	Len() int

	// PruneBefore はcutoffより古いレコードを削除し、削除件数を返す。
	PruneBefore(cutoff time.Time) int
}
