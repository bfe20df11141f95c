package telegram

import (
	"context"
	"testing"

	"github.com/gotd/td/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage_EmptyReturnsNotFound(t *testing.T) {
	s, err := newMemoryStorage("")
	require.NoError(t, err)

	_, err = s.LoadSession(context.Background())
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Empty(t, s.encode())
}

func TestMemoryStorage_RoundTrip(t *testing.T) {
	s, err := newMemoryStorage("")
	require.NoError(t, err)
	require.NoError(t, s.StoreSession(context.Background(), []byte(`{"Version":1}`)))

	encoded := s.encode()
	require.NotEmpty(t, encoded)

	restored, err := newMemoryStorage(encoded)
	require.NoError(t, err)
	data, err := restored.LoadSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"Version":1}`), data)
}

func TestMemoryStorage_InvalidString(t *testing.T) {
	_, err := newMemoryStorage("not base64!")
	assert.Error(t, err)
}

func TestMemoryStorage_StoreCopiesInput(t *testing.T) {
	s, _ := newMemoryStorage("")
	buf := []byte("abc")
	require.NoError(t, s.StoreSession(context.Background(), buf))
	buf[0] = 'z'

	data, err := s.LoadSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}
