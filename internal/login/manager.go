// Package login はQRログイントークンによるアカウント認証のセッションマネージャを提供する。
//
// Managerはアカウントごとに次の状態遷移を管理する。
//
//	Unauthenticated → PendingConfirmation → Authenticated → Disconnected
//
// 保存済みセッションが有効な場合はUnauthenticatedから直接Authenticatedに遷移する。
// 1アカウント内の処理（トークン発行、リフレッシュ、確認、コミット、切断）は
// アカウントごとのロックで直列化し、異なるアカウント同士はレジストリの短いロック以外を共有しない。
package login

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/telegate/internal/clock"
	"github.com/hitoshi/telegate/internal/metrics"
	"github.com/hitoshi/telegate/internal/model"
	"github.com/hitoshi/telegate/internal/protocol"
	"github.com/hitoshi/telegate/internal/qr"
	"github.com/hitoshi/telegate/internal/repository"
	"github.com/hitoshi/telegate/internal/worker"
)

// EventSink はWebhookイベントの送信先。webhook.Dispatcherが満たす。
type EventSink interface {
	Emit(url string, event model.WebhookEvent)
}

// RelayActivator は認証済みアカウントのメッセージ中継ハンドラーを生成する。
// accountには認証直後のスナップショット（SelfIDとWebhookURLを含む）が渡される。
type RelayActivator interface {
	Handler(account model.Account) protocol.UpdateHandler
}

// URLValidator はWebhook URLを検証する。security.WebhookGuardServiceが満たす。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Config はQRトークンのリフレッシュ間隔の設定。
type Config struct {
	// RefreshLead は有効期限のどれだけ前にリフレッシュするか。
	RefreshLead time.Duration
	// RefreshMin は現在時刻からリフレッシュまでの最短間隔。
	RefreshMin time.Duration
	// DefaultTTL は有効期限が不明な場合のリフレッシュ間隔。
	DefaultTTL time.Duration
}

// DefaultConfig はデフォルトのリフレッシュ設定を返す。
func DefaultConfig() Config {
	return Config{
		RefreshLead: 3 * time.Second,
		RefreshMin:  5 * time.Second,
		DefaultTTL:  30 * time.Second,
	}
}

// Deps はManagerの依存コンポーネント。
// Renderer、Metrics、Clock、Validator、Relayは省略可能。
type Deps struct {
	Dialer      protocol.Dialer
	Credentials repository.CredentialRepository
	Events      EventSink
	Relay       RelayActivator
	Renderer    qr.Renderer
	Metrics     metrics.MetricsCollector
	Clock       clock.Clock
	Validator   URLValidator
	Logger      *slog.Logger
}

// CreateResult はCreateAccountの結果。
type CreateResult struct {
	Account       model.Account
	AlreadyExists bool
}

// Manager はアカウントセッションのレジストリとログインフローを管理する。
type Manager struct {
	dialer    protocol.Dialer
	creds     repository.CredentialRepository
	events    EventSink
	relay     RelayActivator
	renderer  qr.Renderer
	metrics   metrics.MetricsCollector
	clock     clock.Clock
	validator URLValidator
	logger    *slog.Logger
	cfg       Config

	baseCtx   context.Context
	cancelAll context.CancelFunc
	flows     sync.WaitGroup

	// mu はレジストリを保護する。mu保持中にaccountSession.muを取得してはならない。
	mu       sync.Mutex
	accounts map[string]*accountSession
	closed   bool
}

// NewManager はManagerを生成する。
func NewManager(deps Deps, cfg Config) *Manager {
	defaults := DefaultConfig()
	if cfg.RefreshLead < 0 {
		cfg.RefreshLead = defaults.RefreshLead
	}
	if cfg.RefreshMin <= 0 {
		cfg.RefreshMin = defaults.RefreshMin
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaults.DefaultTTL
	}
	if deps.Renderer == nil {
		deps.Renderer = qr.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dialer:    deps.Dialer,
		creds:     deps.Credentials,
		events:    deps.Events,
		relay:     deps.Relay,
		renderer:  deps.Renderer,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		validator: deps.Validator,
		logger:    deps.Logger,
		cfg:       cfg,
		baseCtx:   ctx,
		cancelAll: cancel,
		accounts:  make(map[string]*accountSession),
	}
}

// CreateAccount はアカウントを登録し、ログインフローをバックグラウンドで開始する。
// 同名のアカウントが既に存在する場合は新しいフローを開始せず、既存のスナップショットを返す。
func (m *Manager) CreateAccount(ctx context.Context, name, webhookURL string) (CreateResult, error) {
	name = strings.TrimSpace(name)
	webhookURL = strings.TrimSpace(webhookURL)

	if name == "" || webhookURL == "" {
		return CreateResult{}, model.NewValidationError("Nome e Webhook são obrigatórios.")
	}
	if !isValidName(name) {
		return CreateResult{}, model.NewValidationError("Nome inválido: use letras, números, '-' ou '_'.")
	}
	if m.validator != nil {
		if err := m.validator.ValidateURL(webhookURL); err != nil {
			return CreateResult{}, model.NewValidationError("Webhook inválido: " + err.Error())
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return CreateResult{}, ErrShutdown
	}
	if existing, ok := m.accounts[name]; ok {
		m.mu.Unlock()
		return CreateResult{Account: existing.snapshot(), AlreadyExists: true}, nil
	}
	sess := newAccountSession(m.baseCtx, name, webhookURL, m.clock.Now())
	m.accounts[name] = sess
	count := len(m.accounts)
	m.flows.Add(1)
	m.mu.Unlock()

	m.metrics.SetActiveAccounts(count)
	m.logger.Info("アカウントを登録しました", slog.String("account", name))

	worker.Go(m.logger, "login:"+name, func() {
		defer m.flows.Done()
		m.run(sess)
	})

	return CreateResult{Account: sess.snapshot()}, nil
}

// Status はアカウントのスナップショットを返す。
func (m *Manager) Status(name string) (model.Account, error) {
	sess, ok := m.lookup(name)
	if !ok {
		return model.Account{}, model.NewAccountNotFoundError(name)
	}
	return sess.snapshot(), nil
}

// List は登録済みアカウントのスナップショットを名前順で返す。
func (m *Manager) List() []model.Account {
	m.mu.Lock()
	sessions := make([]*accountSession, 0, len(m.accounts))
	for _, s := range m.accounts {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]model.Account, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Client は認証済みアカウントの接続とスナップショットを返す。
// 未登録の場合はACCOUNT_NOT_FOUND、未認証の場合はSESSION_NOT_READYのAPIErrorを返す。
func (m *Manager) Client(name string) (protocol.Client, model.Account, error) {
	sess, ok := m.lookup(name)
	if !ok {
		return nil, model.Account{}, model.NewAccountNotFoundError(name)
	}

	view := sess.published()
	if view.state != model.StateAuthenticated || view.client == nil {
		return nil, model.Account{}, model.NewSessionNotReadyError(name)
	}
	return view.client, sess.accountFrom(view), nil
}

// Disconnect はアカウントを切断してレジストリから取り除く。
// 接続準備中（Unauthenticated）の場合はINVALID_STATEを返す。
// 保存済みのセッションファイルは削除しないため、次回の作成時に復元される。
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	sess, ok := m.lookup(name)
	if !ok {
		return model.NewAccountNotFoundError(name)
	}

	switch state := sess.published().state; state {
	case model.StateUnauthenticated:
		return model.NewInvalidStateError(name, state)
	case model.StateDisconnected:
		return model.NewAccountNotFoundError(name)
	}

	// 実行中のRPCを先に中断してからアカウントのロックを取得する
	sess.cancel()
	sess.mu.Lock()
	if sess.state == model.StateDisconnected {
		sess.mu.Unlock()
		return model.NewAccountNotFoundError(name)
	}
	client := sess.teardownLocked()
	sess.mu.Unlock()

	m.unregister(sess)

	if client != nil {
		if err := client.Disconnect(ctx); err != nil {
			m.logger.Warn("接続の解放に失敗しました",
				slog.String("account", name),
				slog.String("error", err.Error()),
			)
		}
	}

	m.emit(sess, model.ActionDisconnected, nil)
	m.logger.Info("アカウントを切断しました", slog.String("account", name))
	return nil
}

// Shutdown は全アカウントのフローを止めて接続を解放する。イベントは送信しない。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*accountSession, 0, len(m.accounts))
	for _, s := range m.accounts {
		sessions = append(sessions, s)
	}
	m.accounts = make(map[string]*accountSession)
	m.mu.Unlock()

	// 実行中のRPCを先に中断してからアカウントのロックを取得する
	m.cancelAll()

	for _, s := range sessions {
		s.mu.Lock()
		client := s.teardownLocked()
		s.mu.Unlock()
		if client != nil {
			if err := client.Disconnect(ctx); err != nil {
				m.logger.Warn("シャットダウン時の接続解放に失敗しました",
					slog.String("account", s.name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	m.metrics.SetActiveAccounts(0)

	done := make(chan struct{})
	go func() {
		m.flows.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) lookup(name string) (*accountSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.accounts[strings.TrimSpace(name)]
	return sess, ok
}

// unregister はsessがまだ登録されている場合にレジストリから取り除く。
func (m *Manager) unregister(sess *accountSession) {
	m.mu.Lock()
	if m.accounts[sess.name] == sess {
		delete(m.accounts, sess.name)
	}
	count := len(m.accounts)
	m.mu.Unlock()
	m.metrics.SetActiveAccounts(count)
}

func (m *Manager) emit(sess *accountSession, action model.Action, fields map[string]any) {
	m.events.Emit(sess.webhook, model.NewWebhookEvent(action, sess.name, m.clock.Now(), fields))
}

// isValidName はアカウント名がファイル名として安全かを判定する。
func isValidName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '@':
		default:
			return false
		}
	}
	return true
}
