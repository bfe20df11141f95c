package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, account, protocol, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeAccountNotFound = "ACCOUNT_NOT_FOUND"
	ErrCodeSessionNotReady = "SESSION_NOT_READY"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeSendFailed      = "SEND_FAILED"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewValidationError は必須項目の欠落などの入力エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "Verifique os campos obrigatórios e tente novamente.",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "Corpo da requisição inválido.",
		Category: "validation",
		Action:   "Envie um JSON válido.",
	}
}

// NewAccountNotFoundError はアカウント未検出エラーを生成する。
func NewAccountNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  fmt.Sprintf("Sessão não encontrada: %s", name),
		Category: "account",
		Action:   "Crie a instância com POST /nova-instancia.",
	}
}

// NewSessionNotReadyError は未認証のアカウントで送信しようとした場合のエラーを生成する。
func NewSessionNotReadyError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotReady,
		Message:  fmt.Sprintf("Sessão ainda não autenticada: %s", name),
		Category: "account",
		Action:   "Escaneie o QR code e aguarde o evento conexao_estabelecida.",
	}
}

// NewInvalidStateError は現在の状態で実行できない操作のエラーを生成する。
func NewInvalidStateError(name string, state AccountState) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  fmt.Sprintf("Operação inválida para a instância %s no estado %s", name, state),
		Category: "account",
		Action:   "Aguarde a conclusão da conexão e tente novamente.",
	}
}

// NewSendFailedError はメッセージ送信失敗エラーを生成する。
// 詳細はログのみに記録する。
func NewSendFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSendFailed,
		Message:  "Falha ao enviar a mensagem.",
		Category: "protocol",
		Action:   "Verifique o destinatário e tente novamente.",
	}
}
