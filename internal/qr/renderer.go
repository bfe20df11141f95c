// Package qr はログイン用ディープリンクをスキャン可能な形で出力する。
package qr

import (
	"fmt"
	"io"
	"sync"

	"github.com/mdp/qrterminal/v3"
)

// Renderer はディープリンクをQRコードとして出力するインターフェース。
type Renderer interface {
	Render(account, link string) error
}

// TerminalRenderer はQRコードをハーフブロック文字で端末に描画する。
// 複数アカウントの出力が混ざらないよう描画は直列化する。
type TerminalRenderer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalRenderer はwに描画するTerminalRendererを生成する。
func NewTerminalRenderer(w io.Writer) *TerminalRenderer {
	return &TerminalRenderer{w: w}
}

// Render はアカウント名の見出しとQRコードを描画する。
func (r *TerminalRenderer) Render(account, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := fmt.Fprintf(r.w, "\nQR code para %s (escaneie no app em Dispositivos > Conectar dispositivo):\n", account); err != nil {
		return fmt.Errorf("write qr header: %w", err)
	}
	qrterminal.GenerateHalfBlock(link, qrterminal.L, r.w)
	return nil
}

// Nop は何も出力しないRenderer。QR_TERMINAL=falseの場合に使う。
type Nop struct{}

// Render は何もしない。
func (Nop) Render(string, string) error { return nil }

var (
	_ Renderer = (*TerminalRenderer)(nil)
	_ Renderer = Nop{}
)
