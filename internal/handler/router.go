package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/telegate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// インスタンス
	Accounts AccountManager

	// メッセージ
	Sender   MessageSender
	Messages MessageLister

	// Metrics はGET /metricsのハンドラー。nilの場合はルートを登録しない。
	Metrics http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → RateLimit(General)
//
// /healthと/metricsはレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))

	instanceHandler := NewInstanceHandler(deps.Accounts)
	messageHandler := NewMessageHandler(deps.Sender, deps.Messages)

	// --- 監視用ルート ---
	r.Get("/health", Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- API ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		// インスタンス作成は専用のレート制限を追加
		create := http.Handler(http.HandlerFunc(instanceHandler.CreateInstance))
		if deps.RateLimiter != nil {
			create = deps.RateLimiter.InstanceCreationMiddleware()(create)
		}
		r.Method(http.MethodPost, "/nova-instancia", create)

		r.Get("/status/{nome}", instanceHandler.GetStatus)
		r.Get("/instancias", instanceHandler.ListInstances)
		r.Delete("/instancia/{nome}", instanceHandler.DeleteInstance)

		r.Post("/send-message", messageHandler.SendMessage)
		r.Get("/received-messages", messageHandler.ReceivedMessages)
	})

	return r
}

// Health はプロセスの生存確認に応答する。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
