package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Telegram
	TelegramAPIID    int
	TelegramAPIHash  string
	TelegramDebugLog bool

	// Storage
	SessionsDir string
	MediaDir    string

	// Webhook
	WebhookMaxAttempts    int
	WebhookTimeout        time.Duration
	WebhookRetryDelay     time.Duration
	WebhookMaxConcurrent  int
	WebhookSSRFProtection bool

	// QR
	QRRefreshLead time.Duration
	QRRefreshMin  time.Duration
	QRDefaultTTL  time.Duration
	QRTerminal    bool

	// Message log
	MessageLogMaxSize       int
	MessageLogMaxAge        time.Duration
	MessageLogPruneInterval time.Duration
	MediaInlineMaxBytes     int
	SanitizeMessageText     bool

	// Rate Limit
	RateLimitGeneral  int
	RateLimitInstance int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、またはTELEGRAM_API_IDが数値でない場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	apiID := os.Getenv("TELEGRAM_API_ID")
	if apiID == "" {
		missing = append(missing, "TELEGRAM_API_ID")
	}

	cfg.TelegramAPIHash = os.Getenv("TELEGRAM_API_HASH")
	if cfg.TelegramAPIHash == "" {
		missing = append(missing, "TELEGRAM_API_HASH")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	id, err := strconv.Atoi(strings.TrimSpace(apiID))
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("TELEGRAM_API_ID must be a positive integer: %q", apiID)
	}
	cfg.TelegramAPIID = id

	// Optional fields with defaults
	cfg.TelegramDebugLog = getEnvBool("TELEGRAM_DEBUG_LOG", false)
	cfg.SessionsDir = getEnvString("SESSIONS_DIR", "sessions")
	cfg.MediaDir = getEnvString("MEDIA_DIR", ".")
	cfg.WebhookMaxAttempts = getEnvPositiveInt("WEBHOOK_MAX_ATTEMPTS", 3)
	cfg.WebhookTimeout = getEnvPositiveDuration("WEBHOOK_TIMEOUT", 15*time.Second)
	cfg.WebhookRetryDelay = getEnvDuration("WEBHOOK_RETRY_DELAY", 2*time.Second)
	cfg.WebhookMaxConcurrent = getEnvPositiveInt("WEBHOOK_MAX_CONCURRENT", 32)
	cfg.WebhookSSRFProtection = getEnvBool("WEBHOOK_SSRF_PROTECTION", false)
	cfg.QRRefreshLead = getEnvDuration("QR_REFRESH_LEAD", 3*time.Second)
	cfg.QRRefreshMin = getEnvPositiveDuration("QR_REFRESH_MIN", 5*time.Second)
	cfg.QRDefaultTTL = getEnvPositiveDuration("QR_DEFAULT_TTL", 30*time.Second)
	cfg.QRTerminal = getEnvBool("QR_TERMINAL", true)
	cfg.MessageLogMaxSize = getEnvInt("MESSAGE_LOG_MAX_SIZE", 0)
	cfg.MessageLogMaxAge = getEnvDuration("MESSAGE_LOG_MAX_AGE", 0)
	cfg.MessageLogPruneInterval = getEnvPositiveDuration("MESSAGE_LOG_PRUNE_INTERVAL", time.Hour)
	cfg.MediaInlineMaxBytes = getEnvInt("MEDIA_INLINE_MAX_BYTES", 0)
	cfg.SanitizeMessageText = getEnvBool("SANITIZE_MESSAGE_TEXT", false)
	cfg.RateLimitGeneral = getEnvPositiveInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitInstance = getEnvPositiveInt("RATE_LIMIT_INSTANCE", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "3001")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvInt は整数を読む。負の値や解析できない値はデフォルトにする。
func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}

func getEnvPositiveInt(key string, defaultVal int) int {
	if i := getEnvInt(key, defaultVal); i > 0 {
		return i
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvDuration は期間を読む。負の値や解析できない値はデフォルトにする。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return defaultVal
	}
	return d
}

func getEnvPositiveDuration(key string, defaultVal time.Duration) time.Duration {
	if d := getEnvDuration(key, defaultVal); d > 0 {
		return d
	}
	return defaultVal
}
