package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/hitoshi/telegate/internal/clock"
	"github.com/hitoshi/telegate/internal/config"
	"github.com/hitoshi/telegate/internal/handler"
	"github.com/hitoshi/telegate/internal/logger"
	"github.com/hitoshi/telegate/internal/login"
	"github.com/hitoshi/telegate/internal/metrics"
	"github.com/hitoshi/telegate/internal/middleware"
	"github.com/hitoshi/telegate/internal/protocol"
	"github.com/hitoshi/telegate/internal/protocol/telegram"
	"github.com/hitoshi/telegate/internal/qr"
	"github.com/hitoshi/telegate/internal/relay"
	"github.com/hitoshi/telegate/internal/repository"
	"github.com/hitoshi/telegate/internal/security"
	"github.com/hitoshi/telegate/internal/storage"
	"github.com/hitoshi/telegate/internal/webhook"
	"github.com/hitoshi/telegate/internal/worker/cleanup"
)

// shutdownTimeout はグレースフルシャットダウン全体の上限時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定のログレベルで再セットアップ
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "3001"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("sessions_dir", cfg.SessionsDir),
		slog.String("media_dir", cfg.MediaDir),
	)

	return runServe(cfg)
}

// Gateway はワイヤリング済みのアプリケーション一式。
type Gateway struct {
	Handler    http.Handler
	Manager    *login.Manager
	Dispatcher *webhook.Dispatcher
	Messages   *repository.MemoryMessageLog
	Cleanup    *cleanup.CleanupJob

	rateLimiter   *middleware.RateLimiter
	pruneInterval time.Duration
}

// Build は設定から全依存関係をワイヤリングする。
// dialerがnilの場合はTelegramのDialerを使用する。
func Build(cfg *config.Config, log *slog.Logger, dialer protocol.Dialer) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}
	clk := clock.Real()

	// 1. 永続化
	creds := repository.NewFileCredentialRepo(cfg.SessionsDir)
	if err := creds.EnsureDir(); err != nil {
		return nil, fmt.Errorf("failed to prepare sessions directory: %w", err)
	}
	mediaStore := storage.NewFileMediaStore(cfg.MediaDir, clk)
	messages := repository.NewMemoryMessageLog(cfg.MessageLogMaxSize)

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. Webhook送信
	guard := security.NewWebhookGuard()
	httpClient := &http.Client{Timeout: cfg.WebhookTimeout}
	if cfg.WebhookSSRFProtection {
		httpClient = guard.NewSafeClient(cfg.WebhookTimeout)
	}
	notifier := webhook.NewNotifier(httpClient, clk, collector, log, webhook.Config{
		Timeout:    cfg.WebhookTimeout,
		RetryDelay: cfg.WebhookRetryDelay,
	})
	dispatcher := webhook.NewDispatcher(notifier, log, cfg.WebhookMaxAttempts, cfg.WebhookMaxConcurrent)

	// 4. メッセージ中継
	relayOpts := relay.Options{InlineMaxBytes: cfg.MediaInlineMaxBytes}
	if cfg.SanitizeMessageText {
		relayOpts.Sanitizer = security.NewTextSanitizer()
	}
	rel := relay.New(mediaStore, messages, dispatcher, collector, clk, log, relayOpts)

	// 5. Telegram接続
	if dialer == nil {
		zl := zap.NewNop()
		if cfg.TelegramDebugLog {
			dev, err := zap.NewDevelopment()
			if err != nil {
				return nil, fmt.Errorf("failed to build protocol logger: %w", err)
			}
			zl = dev
		}
		dialer = telegram.NewDialer(telegram.Config{
			AppID:   cfg.TelegramAPIID,
			AppHash: cfg.TelegramAPIHash,
			Logger:  zl,
		}, log)
	}

	var renderer qr.Renderer = qr.Nop{}
	if cfg.QRTerminal {
		renderer = qr.NewTerminalRenderer(os.Stdout)
	}

	deps := login.Deps{
		Dialer:      dialer,
		Credentials: creds,
		Events:      dispatcher,
		Relay:       rel,
		Renderer:    renderer,
		Metrics:     collector,
		Clock:       clk,
		Logger:      log,
	}
	if cfg.WebhookSSRFProtection {
		deps.Validator = guard
	}
	manager := login.NewManager(deps, login.Config{
		RefreshLead: cfg.QRRefreshLead,
		RefreshMin:  cfg.QRRefreshMin,
		DefaultTTL:  cfg.QRDefaultTTL,
	})

	// 6. HTTP
	rl := middleware.NewRateLimiter(middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitInstance))
	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		Logger:            log,
		Accounts:          manager,
		Sender:            relay.NewSender(manager, rel),
		Messages:          messages,
		Metrics:           metrics.Handler(registry),
	})

	return &Gateway{
		Handler:       router,
		Manager:       manager,
		Dispatcher:    dispatcher,
		Messages:      messages,
		Cleanup:       cleanup.NewCleanupJob(messages, clk, log, cfg.MessageLogMaxAge),
		rateLimiter:   rl,
		pruneInterval: cfg.MessageLogPruneInterval,
	}, nil
}

// StartBackground はバックグラウンドジョブを起動する。ctxのキャンセルで停止する。
func (g *Gateway) StartBackground(ctx context.Context) {
	if g.Cleanup.Enabled() {
		go g.Cleanup.Start(ctx, g.pruneInterval)
	}
}

// Shutdown は全アカウントを停止し、配信中のWebhookの完了を待つ。
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error
	if err := g.Manager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("account shutdown: %w", err))
	}
	if err := g.Dispatcher.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("webhook drain: %w", err))
	}
	g.rateLimiter.Stop()
	return errors.Join(errs...)
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	gw, err := Build(cfg, slog.Default(), nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.StartBackground(ctx)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      gw.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("APIサーバーを起動しました", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
		slog.Info("APIサーバーを停止します")
	case err := <-serveErr:
		slog.Error("サーバーの待ち受けに失敗しました", slog.String("error", err.Error()))
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		_ = gw.Shutdown(shutdownCtx)
		return fmt.Errorf("server listen failed: %w", err)
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}

	slog.Info("APIサーバーを正常に停止しました")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
