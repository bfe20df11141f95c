// Package model はドメインモデルを定義する。
package model

import "time"

// AccountState はアカウントセッションのログイン状態を表す。
type AccountState string

const (
	// StateUnauthenticated は接続準備中でまだQRフローに入っていない状態。
	StateUnauthenticated AccountState = "unauthenticated"
	// StatePendingConfirmation はログイントークンを発行し、スキャン待ちの状態。
	StatePendingConfirmation AccountState = "pending_confirmation"
	// StateAuthenticated は認証済みでメッセージ中継が有効な状態。
	StateAuthenticated AccountState = "authenticated"
	// StateDisconnected は切断済みの終端状態。
	StateDisconnected AccountState = "disconnected"
)

// Account はアカウントセッションの読み取り専用スナップショット。
// レジストリ内部の可変状態はloginパッケージが保持し、外部にはこの値を渡す。
type Account struct {
	Name            string
	WebhookURL      string
	State           AccountState
	Connected       bool
	SelfID          string
	TokenExpiresAt  time.Time
	CreatedAt       time.Time
	AuthenticatedAt time.Time
}

// IsAuthenticated は認証済みかどうかを返す。
func (a Account) IsAuthenticated() bool {
	return a.State == StateAuthenticated
}
