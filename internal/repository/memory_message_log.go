package repository

import (
	"sync"
	"time"

	"github.com/hitoshi/telegate/internal/model"
)

// MemoryMessageLog はプロセス内で保持する追記専用のメッセージログ。
// maxSizeが0の場合は上限なし。上限を超えた場合は古いレコードから捨てる。
type MemoryMessageLog struct {
	mu      sync.RWMutex
	records []model.MessageRecord
	maxSize int
}

// NewMemoryMessageLog はMemoryMessageLogを生成する。
func NewMemoryMessageLog(maxSize int) *MemoryMessageLog {
	if maxSize < 0 {
		maxSize = 0
	}
	return &MemoryMessageLog{maxSize: maxSize}
}

// Append はレコードを末尾に追加する。
func (l *MemoryMessageLog) Append(record model.MessageRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, record)
	if l.maxSize > 0 && len(l.records) > l.maxSize {
		overflow := len(l.records) - l.maxSize
		l.records = append([]model.MessageRecord(nil), l.records[overflow:]...)
	}
}

// List は全レコードのコピーを返す。
func (l *MemoryMessageLog) List() []model.MessageRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.MessageRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len は保持しているレコード数を返す。
func (l *MemoryMessageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// PruneBefore はcutoffより古いレコードを削除する。
// レコードは追加順に並んでいるが、タイムスタンプの逆転に備えて全件を判定する。
func (l *MemoryMessageLog) PruneBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.records[:0:0]
	for _, r := range l.records {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	removed := len(l.records) - len(kept)
	l.records = kept
	return removed
}

// compile-time interface check
var _ MessageLog = (*MemoryMessageLog)(nil)
