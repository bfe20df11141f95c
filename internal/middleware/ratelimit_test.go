package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func newLimitedRequest(remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/status/loja", nil)
	req.RemoteAddr = remoteAddr
	return req
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     2,
		GeneralBurst:    5,
		InstanceRate:    1,
		InstanceBurst:   10,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	handlerCallCount := 0
	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newLimitedRequest("10.0.0.1:5000"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     0.5,
		GeneralBurst:    1,
		InstanceRate:    1,
		InstanceBurst:   1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("10.0.0.2:5000"))
	if w.Code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("10.0.0.2:5001"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || retryAfter != 2 {
		t.Errorf("Retry-After = %q, want 2", w.Header().Get("Retry-After"))
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["code"] != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", body["code"])
	}
}

func TestRateLimitMiddleware_IsolatesClients(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		InstanceRate:    1,
		InstanceBurst:   1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	// クライアントAがバーストを使い切る
	handler.ServeHTTP(httptest.NewRecorder(), newLimitedRequest("10.0.0.3:1"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("10.0.0.3:2"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("client A: status = %d, want 429", w.Code)
	}

	// クライアントBは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("10.0.0.4:1"))
	if w.Code != http.StatusOK {
		t.Errorf("client B: status = %d, want 200", w.Code)
	}

	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount() = %d, want 2", rl.GeneralLimiterCount())
	}
}

// --- InstanceCreationMiddleware のテスト ---

func TestInstanceCreationRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		InstanceRate:    0.1,
		InstanceBurst:   2,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(rl.InstanceCreationMiddleware()(okHandler()))

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newLimitedRequest("10.0.0.5:1"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newLimitedRequest("10.0.0.5:1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}

	// 全般リミッターはまだ余裕がある
	general := rl.GeneralMiddleware()(okHandler())
	w = httptest.NewRecorder()
	general.ServeHTTP(w, newLimitedRequest("10.0.0.5:1"))
	if w.Code != http.StatusOK {
		t.Errorf("general: status = %d, want 200", w.Code)
	}
	if rl.InstanceLimiterCount() != 1 {
		t.Errorf("InstanceLimiterCount() = %d, want 1", rl.InstanceLimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		InstanceRate:    1,
		InstanceBurst:   1,
		CleanupInterval: time.Hour,
	})
	defer rl.Stop()

	rl.general.get("10.0.0.6")
	rl.instance.get("10.0.0.6")

	// 最終アクセスを古くする
	rl.general.limiters["10.0.0.6"].lastAccess = time.Now().Add(-3 * time.Hour)
	rl.instance.limiters["10.0.0.6"].lastAccess = time.Now().Add(-3 * time.Hour)

	rl.cleanup()

	if rl.GeneralLimiterCount() != 0 || rl.InstanceLimiterCount() != 0 {
		t.Errorf("counts = %d/%d, want 0/0", rl.GeneralLimiterCount(), rl.InstanceLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.InstanceBurst != 10 {
		t.Errorf("InstanceBurst = %d, want 10", cfg.InstanceBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.10:4321", "192.0.2.10"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"unix-socket", "unix-socket"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := ClientIP(req); got != tt.want {
			t.Errorf("ClientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
