package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_API_ID", "123456")
	t.Setenv("TELEGRAM_API_HASH", "0123456789abcdef0123456789abcdef")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.TelegramAPIID != 123456 {
		t.Errorf("TelegramAPIID = %d, want %d", cfg.TelegramAPIID, 123456)
	}
	if cfg.TelegramAPIHash != "0123456789abcdef0123456789abcdef" {
		t.Errorf("TelegramAPIHash = %q", cfg.TelegramAPIHash)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Storage defaults
	if cfg.SessionsDir != "sessions" {
		t.Errorf("SessionsDir = %q, want %q", cfg.SessionsDir, "sessions")
	}
	if cfg.MediaDir != "." {
		t.Errorf("MediaDir = %q, want %q", cfg.MediaDir, ".")
	}

	// Webhook defaults
	if cfg.WebhookMaxAttempts != 3 {
		t.Errorf("WebhookMaxAttempts = %d, want 3", cfg.WebhookMaxAttempts)
	}
	if cfg.WebhookTimeout != 15*time.Second {
		t.Errorf("WebhookTimeout = %v, want 15s", cfg.WebhookTimeout)
	}
	if cfg.WebhookRetryDelay != 2*time.Second {
		t.Errorf("WebhookRetryDelay = %v, want 2s", cfg.WebhookRetryDelay)
	}
	if cfg.WebhookMaxConcurrent != 32 {
		t.Errorf("WebhookMaxConcurrent = %d, want 32", cfg.WebhookMaxConcurrent)
	}
	if cfg.WebhookSSRFProtection {
		t.Error("WebhookSSRFProtection should default to false")
	}

	// QR defaults
	if cfg.QRRefreshLead != 3*time.Second || cfg.QRRefreshMin != 5*time.Second || cfg.QRDefaultTTL != 30*time.Second {
		t.Errorf("QR timings = %v/%v/%v, want 3s/5s/30s", cfg.QRRefreshLead, cfg.QRRefreshMin, cfg.QRDefaultTTL)
	}
	if !cfg.QRTerminal {
		t.Error("QRTerminal should default to true")
	}

	// Message log defaults
	if cfg.MessageLogMaxSize != 0 || cfg.MessageLogMaxAge != 0 {
		t.Errorf("message log bounds = %d/%v, want unbounded", cfg.MessageLogMaxSize, cfg.MessageLogMaxAge)
	}
	if cfg.MessageLogPruneInterval != time.Hour {
		t.Errorf("MessageLogPruneInterval = %v, want 1h", cfg.MessageLogPruneInterval)
	}
	if cfg.MediaInlineMaxBytes != 0 {
		t.Errorf("MediaInlineMaxBytes = %d, want 0", cfg.MediaInlineMaxBytes)
	}
	if cfg.SanitizeMessageText {
		t.Error("SanitizeMessageText should default to false")
	}

	// Rate limit defaults
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want 120", cfg.RateLimitGeneral)
	}
	if cfg.RateLimitInstance != 10 {
		t.Errorf("RateLimitInstance = %d, want 10", cfg.RateLimitInstance)
	}

	// Server defaults
	if cfg.ServerPort != "3001" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "3001")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.CORSAllowedOrigin != "*" {
		t.Errorf("CORSAllowedOrigin = %q, want %q", cfg.CORSAllowedOrigin, "*")
	}
	if cfg.TelegramDebugLog {
		t.Error("TelegramDebugLog should default to false")
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("SESSIONS_DIR", "/data/sessions")
	t.Setenv("MEDIA_DIR", "/data/media")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "5")
	t.Setenv("WEBHOOK_TIMEOUT", "3s")
	t.Setenv("WEBHOOK_RETRY_DELAY", "0s")
	t.Setenv("WEBHOOK_SSRF_PROTECTION", "true")
	t.Setenv("QR_TERMINAL", "false")
	t.Setenv("MESSAGE_LOG_MAX_SIZE", "1000")
	t.Setenv("MESSAGE_LOG_MAX_AGE", "24h")
	t.Setenv("MEDIA_INLINE_MAX_BYTES", "1048576")
	t.Setenv("SANITIZE_MESSAGE_TEXT", "1")
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TELEGRAM_DEBUG_LOG", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.SessionsDir != "/data/sessions" || cfg.MediaDir != "/data/media" {
		t.Errorf("dirs = %q/%q", cfg.SessionsDir, cfg.MediaDir)
	}
	if cfg.WebhookMaxAttempts != 5 || cfg.WebhookTimeout != 3*time.Second {
		t.Errorf("webhook = %d/%v", cfg.WebhookMaxAttempts, cfg.WebhookTimeout)
	}
	if cfg.WebhookRetryDelay != 0 {
		t.Errorf("WebhookRetryDelay = %v, want 0 (explicitly disabled)", cfg.WebhookRetryDelay)
	}
	if !cfg.WebhookSSRFProtection || cfg.QRTerminal || !cfg.SanitizeMessageText || !cfg.TelegramDebugLog {
		t.Errorf("bools = %+v", cfg)
	}
	if cfg.MessageLogMaxSize != 1000 || cfg.MessageLogMaxAge != 24*time.Hour {
		t.Errorf("message log = %d/%v", cfg.MessageLogMaxSize, cfg.MessageLogMaxAge)
	}
	if cfg.MediaInlineMaxBytes != 1048576 {
		t.Errorf("MediaInlineMaxBytes = %d", cfg.MediaInlineMaxBytes)
	}
	if cfg.ServerPort != "8080" || cfg.LogLevel != "debug" {
		t.Errorf("server = %q/%q", cfg.ServerPort, cfg.LogLevel)
	}
}

func TestLoad_MissingRequiredVars(t *testing.T) {
	t.Setenv("TELEGRAM_API_ID", "")
	t.Setenv("TELEGRAM_API_HASH", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required vars")
	}
	for _, key := range []string{"TELEGRAM_API_ID", "TELEGRAM_API_HASH"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q should mention %s", err.Error(), key)
		}
	}
}

func TestLoad_InvalidAPIID(t *testing.T) {
	for _, v := range []string{"abc", "-1", "0"} {
		t.Run(v, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv("TELEGRAM_API_ID", v)

			if _, err := Load(); err == nil {
				t.Errorf("expected error for TELEGRAM_API_ID=%q", v)
			}
		})
	}
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "zero")
	t.Setenv("WEBHOOK_TIMEOUT", "soon")
	t.Setenv("WEBHOOK_MAX_CONCURRENT", "0")
	t.Setenv("QR_DEFAULT_TTL", "-5s")
	t.Setenv("MESSAGE_LOG_MAX_SIZE", "-10")
	t.Setenv("QR_TERMINAL", "talvez")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.WebhookMaxAttempts != 3 {
		t.Errorf("WebhookMaxAttempts = %d, want 3", cfg.WebhookMaxAttempts)
	}
	if cfg.WebhookTimeout != 15*time.Second {
		t.Errorf("WebhookTimeout = %v, want 15s", cfg.WebhookTimeout)
	}
	if cfg.WebhookMaxConcurrent != 32 {
		t.Errorf("WebhookMaxConcurrent = %d, want 32", cfg.WebhookMaxConcurrent)
	}
	if cfg.QRDefaultTTL != 30*time.Second {
		t.Errorf("QRDefaultTTL = %v, want 30s", cfg.QRDefaultTTL)
	}
	if cfg.MessageLogMaxSize != 0 {
		t.Errorf("MessageLogMaxSize = %d, want 0", cfg.MessageLogMaxSize)
	}
	if !cfg.QRTerminal {
		t.Error("QRTerminal should fall back to true")
	}
}
