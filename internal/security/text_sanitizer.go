package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は受信メッセージ本文のサニタイズ機能のインターフェース。
// Webhook受信側がHTMLとして表示する場合に備え、マークアップを全て除去する。
type TextSanitizerService interface {
	Sanitize(text string) string
}

// textSanitizer はbluemondayのStrictPolicyでタグを全て取り除く。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした実体参照は元の文字に戻す。
func (s *textSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	return html.UnescapeString(s.policy.Sanitize(text))
}
