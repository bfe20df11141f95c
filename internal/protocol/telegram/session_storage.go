package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/gotd/td/session"
)

// memoryStorage はgotdのセッションデータをメモリに保持するsession.Storage。
// 永続化はCredentialRepositoryが担当し、ここでは文字列との相互変換だけを行う。
type memoryStorage struct {
	mu   sync.RWMutex
	data []byte
}

// compile-time interface check
var _ session.Storage = (*memoryStorage)(nil)

// newMemoryStorage は保存済みセッション文字列から復元したストレージを返す。
// 空文字列の場合は空のストレージを返す。
func newMemoryStorage(encoded string) (*memoryStorage, error) {
	s := &memoryStorage{}
	if encoded == "" {
		return s, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session string: %w", err)
	}
	s.data = data
	return s, nil
}

// LoadSession はsession.Storageを実装する。
func (s *memoryStorage) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

// StoreSession はsession.Storageを実装する。
func (s *memoryStorage) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data[:0:0], data...)
	return nil
}

// encode はセッションデータを保存用の文字列にする。未保存なら空文字列。
func (s *memoryStorage) encode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.data)
}
