package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/telegate/internal/metrics"
	"github.com/hitoshi/telegate/internal/model"
	"github.com/hitoshi/telegate/internal/protocol"
	"github.com/hitoshi/telegate/internal/token"
	"github.com/hitoshi/telegate/internal/worker"
)

// 失敗段階のメトリクスラベル
const (
	stageExport  = "export"
	stageExtract = "extract"
	stageConfirm = "confirm"
	stageImport  = "import"
)

// run はアカウントのログインフローを実行する。
// 保存済みセッションがあれば復元を試み、失敗した場合はQRフローに移る。
func (m *Manager) run(sess *accountSession) {
	blob, found, err := m.creds.Load(sess.ctx, sess.name)
	if err != nil {
		m.logger.Warn("保存済みセッションの読み込みに失敗しました",
			slog.String("account", sess.name),
			slog.String("error", err.Error()),
		)
		found = false
	}

	if found && m.restore(sess, blob) {
		return
	}
	m.startQRFlow(sess)
}

// restore は保存済みセッションで再接続する。認証済みになった場合はtrueを返す。
func (m *Manager) restore(sess *accountSession, blob string) bool {
	ctx := sess.ctx

	client, err := m.dialer.Dial(ctx, protocol.DialRequest{Name: sess.name, Session: blob})
	if err == nil {
		var authorized bool
		authorized, err = client.Authorized(ctx)
		if err == nil && !authorized {
			err = errNotAuthorized
		}
	}
	if err != nil {
		if client != nil {
			if derr := client.Disconnect(context.Background()); derr != nil {
				m.logger.Warn("復元用の接続の解放に失敗しました",
					slog.String("account", sess.name),
					slog.String("error", derr.Error()),
				)
			}
		}
		m.logger.Warn("セッションの復元に失敗しました。QRログインに切り替えます",
			slog.String("account", sess.name),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, errNotAuthorized) {
			// 失効済みのセッションは次回の作成時に再利用しない
			if derr := m.creds.Delete(context.Background(), sess.name); derr != nil {
				m.logger.Warn("失効したセッションの削除に失敗しました",
					slog.String("account", sess.name),
					slog.String("error", derr.Error()),
				)
			}
		}
		m.emit(sess, model.ActionRestorationFailed, map[string]any{"erro": err.Error()})
		return false
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if ctx.Err() != nil || sess.state != model.StateUnauthenticated {
		_ = client.Disconnect(context.Background())
		return true
	}
	sess.client = client
	m.authenticateLocked(sess, metrics.LoginMethodRestored, model.ActionConnectionRestored)
	return true
}

// startQRFlow は新しい接続でQRログインを開始する。
func (m *Manager) startQRFlow(sess *accountSession) {
	client, err := m.dialer.Dial(sess.ctx, protocol.DialRequest{Name: sess.name})
	if err != nil {
		m.logger.Error("接続に失敗しました",
			slog.String("account", sess.name),
			slog.String("error", err.Error()),
		)
		sess.mu.Lock()
		sess.teardownLocked()
		sess.mu.Unlock()
		m.unregister(sess)
		m.emit(sess, model.ActionInstanceError, map[string]any{"erro": err.Error()})
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.ctx.Err() != nil || sess.state != model.StateUnauthenticated {
		_ = client.Disconnect(context.Background())
		return
	}

	sess.client = client
	sess.state = model.StatePendingConfirmation
	sess.loginHandler = client.AddUpdateHandler(m.loginUpdateHandler(sess))
	sess.hasLoginHandler = true
	sess.publishLocked()

	m.exportLocked(sess)
}

// exportWithFallback はキャメルケースでトークンを発行し、失敗した場合はスネークケースで1回だけ再試行する。
func (m *Manager) exportWithFallback(ctx context.Context, client protocol.Client) (protocol.LoginTokenResult, error) {
	result, err := client.ExportLoginToken(ctx, protocol.ConventionCamel)
	if err == nil {
		return result, nil
	}
	m.logger.Debug("トークン発行に失敗したため別の命名規則で再試行します",
		slog.String("convention", protocol.ConventionCamel.String()),
		slog.String("error", err.Error()),
	)

	result, retryErr := client.ExportLoginToken(ctx, protocol.ConventionSnake)
	if retryErr == nil {
		return result, nil
	}
	return nil, &ProtocolError{Op: "exportLoginToken", Err: errors.Join(err, retryErr)}
}

// exportLocked はトークンを発行して結果を処理する。sess.muを保持して呼ぶ。
func (m *Manager) exportLocked(sess *accountSession) {
	if sess.state != model.StatePendingConfirmation {
		return
	}

	result, err := m.exportWithFallback(sess.ctx, sess.client)
	if err != nil {
		m.exportFailedLocked(sess, stageExport, err)
		return
	}

	loginToken, ok := result.(protocol.LoginToken)
	if !ok {
		// スキャン済みだが更新通知を取りこぼした場合
		m.handleConfirmationLocked(sess, result)
		return
	}

	raw, err := token.Extract(loginToken.Token)
	if err != nil {
		m.exportFailedLocked(sess, stageExtract, err)
		return
	}

	var expiresAt time.Time
	if loginToken.Expires > 0 {
		expiresAt = time.Unix(loginToken.Expires, 0)
	}
	sess.pendingToken = raw
	sess.tokenExpiresAt = expiresAt
	sess.publishLocked()

	link := token.BuildDeepLink(token.Encode(raw))
	if err := m.renderer.Render(sess.name, link); err != nil {
		m.logger.Warn("QRコードの描画に失敗しました",
			slog.String("account", sess.name),
			slog.String("error", err.Error()),
		)
	}

	m.emit(sess, model.ActionQRCodeGenerated, map[string]any{
		"qrUrl":   link,
		"expires": loginToken.Expires,
	})
	m.metrics.RecordQRCodeGenerated()
	m.logger.Info("QRコードを生成しました",
		slog.String("account", sess.name),
		slog.Time("expires_at", expiresAt),
	)

	m.scheduleRefreshLocked(sess, expiresAt)
}

// exportFailedLocked はトークン発行の失敗を通知し、既定間隔で再試行を予約する。
func (m *Manager) exportFailedLocked(sess *accountSession, stage string, err error) {
	if sess.ctx.Err() != nil {
		// 切断またはシャットダウンで中断された
		return
	}
	m.metrics.RecordLoginTokenFailure(stage)
	m.logger.Error("ログイントークンの発行に失敗しました",
		slog.String("account", sess.name),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	m.emit(sess, model.ActionExportLoginTokenError, map[string]any{"erro": err.Error()})
	m.scheduleRefreshLocked(sess, time.Time{})
}

// scheduleRefreshLocked は有効期限のRefreshLead前（最短でRefreshMin後）にトークンを再発行する。
// expiresAtがゼロの場合はDefaultTTL後。予約済みのタイマーは先に取り消す。
func (m *Manager) scheduleRefreshLocked(sess *accountSession, expiresAt time.Time) {
	now := m.clock.Now()

	var fireAt time.Time
	if expiresAt.IsZero() {
		fireAt = now.Add(m.cfg.DefaultTTL)
	} else {
		fireAt = expiresAt.Add(-m.cfg.RefreshLead)
		if floor := now.Add(m.cfg.RefreshMin); fireAt.Before(floor) {
			fireAt = floor
		}
	}

	sess.stopTimerLocked()
	gen := sess.timerGen
	sess.timer = m.clock.AfterFunc(fireAt.Sub(now), func() {
		worker.Run(m.logger, "refresh:"+sess.name, func() {
			m.onRefresh(sess, gen)
		})
	})
}

// onRefresh はリフレッシュタイマーの発火時に呼ばれる。
// 取り消し済みの世代や確認待ちでない状態では何もしない。
func (m *Manager) onRefresh(sess *accountSession, gen uint64) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if gen != sess.timerGen || sess.state != model.StatePendingConfirmation || sess.ctx.Err() != nil {
		return
	}
	sess.timer = nil
	m.exportLocked(sess)
}

// loginUpdateHandler はログイントークンの更新を検出するハンドラーを返す。
func (m *Manager) loginUpdateHandler(sess *accountSession) protocol.UpdateHandler {
	return func(_ context.Context, u protocol.Update) {
		if !protocol.IsLoginTokenUpdate(u) {
			return
		}
		worker.Run(m.logger, "confirm:"+sess.name, func() {
			m.onLoginTokenUpdate(sess)
		})
	}
}

// onLoginTokenUpdate はスキャン通知を受けてトークンを再発行し、確認結果を処理する。
func (m *Manager) onLoginTokenUpdate(sess *accountSession) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state != model.StatePendingConfirmation || sess.ctx.Err() != nil {
		return
	}

	result, err := m.exportWithFallback(sess.ctx, sess.client)
	if err != nil {
		if sess.ctx.Err() != nil {
			return
		}
		m.metrics.RecordLoginTokenFailure(stageConfirm)
		m.logger.Error("スキャン確認のトークン発行に失敗しました",
			slog.String("account", sess.name),
			slog.String("error", err.Error()),
		)
		m.emit(sess, model.ActionConfirmExportError, map[string]any{"erro": err.Error()})
		return
	}
	m.handleConfirmationLocked(sess, result)
}

// handleConfirmationLocked は確認結果に応じてコミット、データセンター移行、診断通知を行う。
func (m *Manager) handleConfirmationLocked(sess *accountSession, result protocol.LoginTokenResult) {
	switch r := result.(type) {
	case protocol.LoginTokenSuccess:
		m.commitLocked(sess)

	case protocol.LoginTokenMigrateTo:
		imported, err := sess.client.ImportLoginToken(sess.ctx, r.DCID, r.Token)
		if err != nil {
			if sess.ctx.Err() != nil {
				return
			}
			perr := &ProtocolError{Op: "importLoginToken", Err: err}
			m.metrics.RecordLoginTokenFailure(stageImport)
			m.logger.Error("移行先でのトークン取り込みに失敗しました",
				slog.String("account", sess.name),
				slog.Int("dc_id", r.DCID),
				slog.String("error", perr.Error()),
			)
			m.emit(sess, model.ActionImportLoginTokenError, map[string]any{"erro": perr.Error()})
			m.keepRefreshingLocked(sess)
			return
		}
		if _, ok := imported.(protocol.LoginTokenSuccess); ok {
			m.commitLocked(sess)
			return
		}
		m.metrics.RecordLoginTokenFailure(stageImport)
		m.emit(sess, model.ActionImportLoginTokenError, map[string]any{"detalhe": describeResult(imported)})
		m.keepRefreshingLocked(sess)

	default:
		m.logger.Warn("想定外のトークン確認結果を受信しました",
			slog.String("account", sess.name),
			slog.String("result", describeResult(result)),
		)
		m.emit(sess, model.ActionUnexpectedConfirmation, map[string]any{"resposta": describeResult(result)})
		m.keepRefreshingLocked(sess)
	}
}

// keepRefreshingLocked は確認待ちのままリフレッシュが予約されていない場合に既定間隔で予約する。
// リフレッシュ発火時の確認失敗でアカウントが再試行手段を失わないようにする。
func (m *Manager) keepRefreshingLocked(sess *accountSession) {
	if sess.state != model.StatePendingConfirmation || sess.timer != nil || sess.ctx.Err() != nil {
		return
	}
	m.scheduleRefreshLocked(sess, time.Time{})
}

// commitLocked はPendingConfirmationからAuthenticatedへ1回だけ遷移させる。
func (m *Manager) commitLocked(sess *accountSession) {
	if sess.state != model.StatePendingConfirmation {
		return
	}
	m.authenticateLocked(sess, metrics.LoginMethodQR, model.ActionConnectionEstablished)
}

// authenticateLocked は認証済み状態への遷移を行う。
// セッションを保存し、タイマーとトークンを破棄し、ログインリスナーを中継ハンドラーに切り替える。
func (m *Manager) authenticateLocked(sess *accountSession, method string, action model.Action) {
	ctx := sess.ctx
	client := sess.client

	blob, err := client.SaveSession(ctx)
	if err != nil {
		m.logger.Error("セッションの取得に失敗しました",
			slog.String("account", sess.name),
			slog.String("error", err.Error()),
		)
	}
	if blob != "" {
		if err := m.creds.Save(ctx, sess.name, blob); err != nil {
			m.logger.Error("セッションの保存に失敗しました",
				slog.String("account", sess.name),
				slog.String("error", err.Error()),
			)
		}
	}

	sess.stopTimerLocked()
	sess.blob = blob
	sess.pendingToken = nil
	sess.tokenExpiresAt = time.Time{}
	sess.state = model.StateAuthenticated
	sess.authenticatedAt = m.clock.Now()

	selfID, err := client.SelfID(ctx)
	if err != nil {
		m.logger.Warn("自アカウントIDの取得に失敗しました",
			slog.String("account", sess.name),
			slog.String("error", err.Error()),
		)
	}
	sess.selfID = selfID
	sess.publishLocked()

	if sess.hasLoginHandler {
		client.RemoveUpdateHandler(sess.loginHandler)
		sess.hasLoginHandler = false
	}
	if m.relay != nil && !sess.hasRelayHandler {
		sess.relayHandler = client.AddUpdateHandler(m.relay.Handler(sess.snapshotLocked()))
		sess.hasRelayHandler = true
	}

	m.emit(sess, action, map[string]any{
		"status":        "conectado",
		"stringSession": blob,
	})
	m.metrics.RecordLogin(method)
	m.logger.Info("アカウントが認証されました",
		slog.String("account", sess.name),
		slog.String("method", method),
	)
}

// describeResult は診断用に確認結果を文字列化する。
func describeResult(result protocol.LoginTokenResult) string {
	switch r := result.(type) {
	case nil:
		return "<nil>"
	case protocol.LoginTokenUnknown:
		return fmt.Sprintf("%+v", r.Raw)
	default:
		return fmt.Sprintf("%T%+v", r, r)
	}
}
