package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/telegate/internal/clock"
)

func TestFileMediaStore_SaveLayout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	at := time.UnixMilli(1_700_000_000_123)
	store := NewFileMediaStore(root, clock.Fake(at))

	saved, err := store.Save(context.Background(), FolderReceived, "image/jpeg", []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)

	wantName := "file_1700000000123.jpg"
	assert.Equal(t, wantName, saved.FileName)
	assert.Equal(t, filepath.Join(root, "recebidos", "image", wantName), saved.Path)
	assert.Equal(t, 3, saved.Size)

	data, err := os.ReadFile(saved.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, data)
}

func TestFileMediaStore_SameMillisecondDoesNotCollide(t *testing.T) {
	t.Parallel()

	store := NewFileMediaStore(t.TempDir(), clock.Fake(time.UnixMilli(1000)))
	ctx := context.Background()

	first, err := store.Save(ctx, FolderSent, "application/pdf", []byte("a"))
	require.NoError(t, err)
	second, err := store.Save(ctx, FolderSent, "application/pdf", []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	assert.Equal(t, "file_1000.pdf", first.FileName)
	assert.Equal(t, "file_1001.pdf", second.FileName)
}

func TestFileMediaStore_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	store := NewFileMediaStore(t.TempDir(), nil)
	ctx := context.Background()

	_, err := store.Save(ctx, Folder("../etc"), "image/png", []byte("x"))
	assert.Error(t, err)

	_, err = store.Save(ctx, FolderReceived, "image/png", nil)
	assert.Error(t, err)
}

func TestPrimaryKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime string
		want string
	}{
		{mime: "image/png", want: "image"},
		{mime: "AUDIO/ogg", want: "audio"},
		{mime: "application/pdf", want: "application"},
		{mime: "", want: "outros"},
		{mime: "semtipo", want: "outros"},
		{mime: "../x/y", want: "outros"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PrimaryKind(tt.mime), tt.mime)
	}
}

func TestExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mime string
		want string
	}{
		{mime: "image/jpeg", want: "jpg"},
		{mime: "image/png", want: "png"},
		{mime: "audio/ogg; codecs=opus", want: "ogg"},
		{mime: "application/x-telegate-custom", want: "x-telegate-custom"},
		{mime: "not a mime", want: "bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Extension(tt.mime), tt.mime)
	}
}
