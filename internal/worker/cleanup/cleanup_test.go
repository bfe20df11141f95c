package cleanup

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/telegate/internal/clock"
)

// mockPruner はPrunerのモック。
type mockPruner struct {
	mu      sync.Mutex
	calls   []time.Time
	removed int
}

func (m *mockPruner) PruneBefore(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cutoff)
	return m.removed
}

func (m *mockPruner) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_ReturnsNonNil(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockPruner{}, nil, newTestLogger(&buf), time.Hour)
	if job == nil {
		t.Fatal("NewCleanupJob は nil を返してはならない")
	}
	if job.MaxAge != time.Hour {
		t.Errorf("MaxAge = %v, want 1h", job.MaxAge)
	}
}

func TestCleanupJob_Run_UsesCutoffFromClock(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pruner := &mockPruner{removed: 4}
	job := NewCleanupJob(pruner, clock.Fake(now), newTestLogger(&buf), 24*time.Hour)

	deleted := job.Run(context.Background())

	if deleted != 4 {
		t.Errorf("deleted = %d, want 4", deleted)
	}
	if len(pruner.calls) != 1 {
		t.Fatalf("PruneBefore calls = %d, want 1", len(pruner.calls))
	}
	if want := now.Add(-24 * time.Hour); !pruner.calls[0].Equal(want) {
		t.Errorf("cutoff = %v, want %v", pruner.calls[0], want)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("ログのパースに失敗: %v", err)
	}
	if entry["deleted_count"] != float64(4) {
		t.Errorf("deleted_count = %v, want 4", entry["deleted_count"])
	}
}

func TestCleanupJob_Run_DisabledWhenMaxAgeZero(t *testing.T) {
	var buf bytes.Buffer
	pruner := &mockPruner{}
	job := NewCleanupJob(pruner, nil, newTestLogger(&buf), 0)

	if job.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	if got := job.Run(context.Background()); got != 0 {
		t.Errorf("Run() = %d, want 0", got)
	}
	if pruner.callCount() != 0 {
		t.Error("PruneBefore should not be called when disabled")
	}
}

func TestCleanupJob_Start_RunsOnIntervalUntilCancelled(t *testing.T) {
	var buf bytes.Buffer
	fake := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	pruner := &mockPruner{}
	job := NewCleanupJob(pruner, fake, newTestLogger(&buf), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Minute)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		waitForPending(t, fake)
		fake.Advance(time.Minute)
		waitForCalls(t, pruner, i+1)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}

	if !strings.Contains(buf.String(), "停止しました") {
		t.Error("停止ログが出力されていない")
	}
}

func waitForPending(t *testing.T, fake *clock.FakeClock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for fake.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer was never armed")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForCalls(t *testing.T, p *mockPruner, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.callCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("PruneBefore calls = %d, want %d", p.callCount(), n)
		}
		time.Sleep(time.Millisecond)
	}
}
