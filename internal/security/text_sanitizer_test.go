package security

import "testing"

func TestTextSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "空文字列", input: "", want: ""},
		{name: "プレーンテキストはそのまま", input: "Olá, tudo bem?", want: "Olá, tudo bem?"},
		{name: "scriptタグは除去", input: `oi<script>alert(1)</script>`, want: "oi"},
		{name: "タグは除去され本文は残る", input: `<b>negrito</b> e <a href="x">link</a>`, want: "negrito e link"},
		{name: "記号は元に戻す", input: `5 > 3 & "aspas"`, want: `5 > 3 & "aspas"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextSanitizerInterface(t *testing.T) {
	var _ TextSanitizerService = NewTextSanitizer()
}
