package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/telegate/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorResponse(w, http.StatusNotFound, model.NewAccountNotFoundError("loja"))

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeAccountNotFound {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeAccountNotFound)
	}
	if body.Message != "Sessão não encontrada: loja" {
		t.Errorf("message = %q", body.Message)
	}
	if body.Error != body.Message {
		t.Errorf("error = %q, want same as message", body.Error)
	}
	if body.Category != "account" {
		t.Errorf("category = %q, want account", body.Category)
	}
	if body.Action == "" {
		t.Error("action should not be empty")
	}
}

// TestInternalServerError_ReturnsSystemError は内部エラーが詳細を含まずに返ることを検証する。
func TestInternalServerError_ReturnsSystemError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != model.ErrCodeInternal || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

// TestErrorResponseBody_AllFieldsPresent はJSONに全フィールドが含まれることを検証する。
func TestErrorResponseBody_AllFieldsPresent(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Nome e Webhook são obrigatórios."))

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	for _, key := range []string{"error", "code", "message", "category", "action"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("expected field %q in response", key)
		}
	}
}
