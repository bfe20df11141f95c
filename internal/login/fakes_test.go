package login

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/telegate/internal/model"
	"github.com/hitoshi/telegate/internal/protocol"
)

// fakeClient はprotocol.Clientのモック。関数フィールドが未設定の場合は既定の応答を返す。
type fakeClient struct {
	exportFn     func(ctx context.Context, conv protocol.Convention) (protocol.LoginTokenResult, error)
	importFn     func(ctx context.Context, dcID int, token []byte) (protocol.LoginTokenResult, error)
	authorizedFn func(ctx context.Context) (bool, error)
	session      string
	selfID       string

	mu           sync.Mutex
	handlers     map[protocol.HandlerID]protocol.UpdateHandler
	nextID       protocol.HandlerID
	exportCalls  []protocol.Convention
	importCalls  int
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		session:  "session-blob",
		selfID:   "1001",
		handlers: make(map[protocol.HandlerID]protocol.UpdateHandler),
	}
}

func (c *fakeClient) ExportLoginToken(ctx context.Context, conv protocol.Convention) (protocol.LoginTokenResult, error) {
	c.mu.Lock()
	c.exportCalls = append(c.exportCalls, conv)
	fn := c.exportFn
	c.mu.Unlock()
	if fn == nil {
		return protocol.LoginToken{Token: []byte{1, 2, 3}, Expires: 0}, nil
	}
	return fn(ctx, conv)
}

func (c *fakeClient) ImportLoginToken(ctx context.Context, dcID int, token []byte) (protocol.LoginTokenResult, error) {
	c.mu.Lock()
	c.importCalls++
	fn := c.importFn
	c.mu.Unlock()
	if fn == nil {
		return protocol.LoginTokenSuccess{UserID: "1001"}, nil
	}
	return fn(ctx, dcID, token)
}

func (c *fakeClient) Authorized(ctx context.Context) (bool, error) {
	if c.authorizedFn == nil {
		return true, nil
	}
	return c.authorizedFn(ctx)
}

func (c *fakeClient) SaveSession(context.Context) (string, error) { return c.session, nil }
func (c *fakeClient) SelfID(context.Context) (string, error)      { return c.selfID, nil }
func (c *fakeClient) SendText(context.Context, string, string) error {
	return nil
}
func (c *fakeClient) SendFile(context.Context, string, protocol.File) error {
	return nil
}

func (c *fakeClient) AddUpdateHandler(h protocol.UpdateHandler) protocol.HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[c.nextID] = h
	return c.nextID
}

func (c *fakeClient) RemoveUpdateHandler(id protocol.HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, id)
}

func (c *fakeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disconnected
}

func (c *fakeClient) Disconnect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

// deliver は登録中の全ハンドラーに更新を同期的に配送する。
func (c *fakeClient) deliver(u protocol.Update) {
	c.mu.Lock()
	hs := make([]protocol.UpdateHandler, 0, len(c.handlers))
	for _, h := range c.handlers {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(context.Background(), u)
	}
}

func (c *fakeClient) handlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

func (c *fakeClient) exportCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.exportCalls)
}

func (c *fakeClient) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// fakeDialer は要求ごとに次のクライアントを返すDialerのモック。
type fakeDialer struct {
	mu       sync.Mutex
	requests []protocol.DialRequest
	dialFn   func(ctx context.Context, req protocol.DialRequest) (protocol.Client, error)
}

func (d *fakeDialer) Dial(ctx context.Context, req protocol.DialRequest) (protocol.Client, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	return d.dialFn(ctx, req)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

// staticDialer は常に同じクライアントを返す。
func staticDialer(c protocol.Client) *fakeDialer {
	return &fakeDialer{dialFn: func(context.Context, protocol.DialRequest) (protocol.Client, error) {
		return c, nil
	}}
}

// recordingSink は送信されたイベントを記録するEventSink。
type recordingSink struct {
	mu     sync.Mutex
	events []model.WebhookEvent
	urls   []string
}

func (s *recordingSink) Emit(url string, event model.WebhookEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, url)
	s.events = append(s.events, event)
}

func (s *recordingSink) actions() []model.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Action, len(s.events))
	for i, e := range s.events {
		out[i] = e.Action
	}
	return out
}

func (s *recordingSink) count(action model.Action) int {
	n := 0
	for _, a := range s.actions() {
		if a == action {
			n++
		}
	}
	return n
}

func (s *recordingSink) last(action model.Action) (model.WebhookEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Action == action {
			return s.events[i], true
		}
	}
	return model.WebhookEvent{}, false
}

// memoryCreds はCredentialRepositoryのモック。
type memoryCreds struct {
	mu      sync.Mutex
	blobs   map[string]string
	saves   int
	deletes int
	loadErr error
}

func newMemoryCreds() *memoryCreds {
	return &memoryCreds{blobs: make(map[string]string)}
}

func (r *memoryCreds) Load(_ context.Context, name string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return "", false, r.loadErr
	}
	b, ok := r.blobs[name]
	return b, ok, nil
}

func (r *memoryCreds) Save(_ context.Context, name, blob string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.blobs[name] = blob
	return nil
}

func (r *memoryCreds) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes++
	delete(r.blobs, name)
	return nil
}

func (r *memoryCreds) deleteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deletes
}

func (r *memoryCreds) stored(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[name]
	return b, ok
}

func (r *memoryCreds) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// fakeRelay はRelayActivatorのモック。
type fakeRelay struct {
	mu    sync.Mutex
	calls []string
	got   []protocol.Update
}

func (r *fakeRelay) Handler(account model.Account) protocol.UpdateHandler {
	r.mu.Lock()
	r.calls = append(r.calls, account.Name+"/"+account.SelfID)
	r.mu.Unlock()
	return func(_ context.Context, u protocol.Update) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, u)
	}
}

func (r *fakeRelay) activations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type rejectAll struct{}

func (rejectAll) ValidateURL(string) error { return errors.New("blocked") }

// waitFor は条件が満たされるまで待つ。
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// returnsWithin はfnがdの間に戻ることを検証する。
func returnsWithin(t *testing.T, what string, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s did not return within %v", what, d)
	}
}

func waitForState(t *testing.T, m *Manager, name string, want model.AccountState) {
	t.Helper()
	waitFor(t, string(want), func() bool {
		acc, err := m.Status(name)
		return err == nil && acc.State == want
	})
}
