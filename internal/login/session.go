package login

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/telegate/internal/clock"
	"github.com/hitoshi/telegate/internal/model"
	"github.com/hitoshi/telegate/internal/protocol"
)

// accountSession はレジストリが保持する1アカウント分の可変状態。
// name、webhook、createdAtは生成後に変更しない。
// それ以外のフィールドはmuを保持して読み書きする。
type accountSession struct {
	name      string
	webhook   string
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// mu はリフレッシュタイマー、更新リスナー、確認、コミット、切断を直列化する。
	mu sync.Mutex

	state           model.AccountState
	client          protocol.Client
	blob            string
	pendingToken    []byte
	tokenExpiresAt  time.Time
	selfID          string
	authenticatedAt time.Time

	timer    clock.Timer
	timerGen uint64

	loginHandler    protocol.HandlerID
	hasLoginHandler bool
	relayHandler    protocol.HandlerID
	hasRelayHandler bool

	// viewMu は公開用の状態を保護する。RPCの実行中に保持されることはない。
	viewMu sync.RWMutex
	view   sessionView
}

// sessionView は状態遷移ごとに公開される読み取り専用の写し。
type sessionView struct {
	state           model.AccountState
	client          protocol.Client
	selfID          string
	tokenExpiresAt  time.Time
	authenticatedAt time.Time
}

func newAccountSession(parent context.Context, name, webhook string, now time.Time) *accountSession {
	ctx, cancel := context.WithCancel(parent)
	return &accountSession{
		name:      name,
		webhook:   webhook,
		createdAt: now,
		ctx:       ctx,
		cancel:    cancel,
		state:     model.StateUnauthenticated,
		view:      sessionView{state: model.StateUnauthenticated},
	}
}

// publishLocked は現在の状態を公開用の写しに反映する。sess.muを保持して呼ぶ。
func (s *accountSession) publishLocked() {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	s.view = s.currentViewLocked()
}

func (s *accountSession) currentViewLocked() sessionView {
	return sessionView{
		state:           s.state,
		client:          s.client,
		selfID:          s.selfID,
		tokenExpiresAt:  s.tokenExpiresAt,
		authenticatedAt: s.authenticatedAt,
	}
}

// published は最後に公開された状態を返す。sess.muは取得しない。
func (s *accountSession) published() sessionView {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

// snapshot は最後に公開された状態のスナップショットを返す。
// RPC実行中のフローを待たずに返る。
func (s *accountSession) snapshot() model.Account {
	return s.accountFrom(s.published())
}

func (s *accountSession) snapshotLocked() model.Account {
	return s.accountFrom(s.currentViewLocked())
}

func (s *accountSession) accountFrom(v sessionView) model.Account {
	return model.Account{
		Name:            s.name,
		WebhookURL:      s.webhook,
		State:           v.state,
		Connected:       v.client != nil && v.client.Connected(),
		SelfID:          v.selfID,
		TokenExpiresAt:  v.tokenExpiresAt,
		CreatedAt:       s.createdAt,
		AuthenticatedAt: v.authenticatedAt,
	}
}

// stopTimerLocked は予約済みのリフレッシュを取り消し、世代を進める。
// 世代が変わるため、既に発火して待機中のコールバックも何もしない。
func (s *accountSession) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

// teardownLocked はタイマーとハンドラーを解除し、切断状態にして接続を返す。
// 接続の解放は呼び出し元がロック外で行う。
func (s *accountSession) teardownLocked() protocol.Client {
	s.cancel()
	s.stopTimerLocked()

	client := s.client
	if client != nil {
		if s.hasLoginHandler {
			client.RemoveUpdateHandler(s.loginHandler)
			s.hasLoginHandler = false
		}
		if s.hasRelayHandler {
			client.RemoveUpdateHandler(s.relayHandler)
			s.hasRelayHandler = false
		}
	}

	s.client = nil
	s.pendingToken = nil
	s.tokenExpiresAt = time.Time{}
	s.state = model.StateDisconnected
	s.publishLocked()
	return client
}
