package login

import (
	"errors"
	"fmt"
)

// ProtocolError はプロトコルRPC（トークン発行・取り込み）の失敗を表す。
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// errNotAuthorized は保存済みセッションが認証済みでないことを表す。
var errNotAuthorized = errors.New("stored session is not authorized")

// ErrShutdown はシャットダウン後にアカウント作成が要求されたことを表す。
var ErrShutdown = errors.New("login manager is shut down")
