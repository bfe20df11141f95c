// Package storage はメッセージに添付されたメディアのファイル保存を提供する。
package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hitoshi/telegate/internal/clock"
)

// Folder はメディアの保存先フォルダ。
type Folder string

const (
	// FolderReceived は受信メディアの保存先。
	FolderReceived Folder = "recebidos"
	// FolderSent は送信メディアの保存先。
	FolderSent Folder = "enviados"
)

// otherKind はMIMEタイプから主分類を取れない場合のサブフォルダ名。
const otherKind = "outros"

// defaultExt は拡張子を決められない場合の拡張子。
const defaultExt = "bin"

// SavedFile は保存したメディアの情報。
type SavedFile struct {
	Path     string // rootを含む保存先パス
	FileName string
	Size     int
}

// MediaStore はメディア本体の保存インターフェース。
type MediaStore interface {
	Save(ctx context.Context, folder Folder, mimeType string, data []byte) (SavedFile, error)
}

// FileMediaStore はローカルファイルシステムにメディアを保存する。
// 保存先は <root>/<folder>/<主分類|outros>/file_<ミリ秒>.<拡張子>。
type FileMediaStore struct {
	root  string
	clock clock.Clock

	mu     sync.Mutex
	lastMs int64
}

// NewFileMediaStore はFileMediaStoreを生成する。
func NewFileMediaStore(root string, clk clock.Clock) *FileMediaStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &FileMediaStore{root: filepath.Clean(root), clock: clk}
}

// Save はメディアを保存する。同一ミリ秒内の保存は名前が衝突しないよう時刻を繰り上げる。
func (s *FileMediaStore) Save(ctx context.Context, folder Folder, mimeType string, data []byte) (SavedFile, error) {
	if err := ctx.Err(); err != nil {
		return SavedFile{}, err
	}
	if folder != FolderReceived && folder != FolderSent {
		return SavedFile{}, fmt.Errorf("unknown media folder %q", folder)
	}
	if len(data) == 0 {
		return SavedFile{}, errors.New("media is empty")
	}

	dir := filepath.Join(s.root, string(folder), PrimaryKind(mimeType))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return SavedFile{}, fmt.Errorf("create media directory: %w", err)
	}

	name := fmt.Sprintf("file_%d.%s", s.nextMillis(), Extension(mimeType))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return SavedFile{}, fmt.Errorf("write media file: %w", err)
	}

	return SavedFile{Path: path, FileName: name, Size: len(data)}, nil
}

func (s *FileMediaStore) nextMillis() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.clock.Now().UnixMilli()
	if ms <= s.lastMs {
		ms = s.lastMs + 1
	}
	s.lastMs = ms
	return ms
}

// PrimaryKind はMIMEタイプの主分類（image/jpegならimage）を返す。
func PrimaryKind(mimeType string) string {
	kind, _, ok := strings.Cut(strings.TrimSpace(mimeType), "/")
	kind = strings.ToLower(kind)
	if !ok || kind == "" || strings.ContainsAny(kind, `.\ `) {
		return otherKind
	}
	return kind
}

// Extension はMIMEタイプに対応する拡張子（ドットなし）を返す。
// 登録済みの拡張子がなければサブタイプ、それもなければbinを使う。
func Extension(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return defaultExt
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(preferredExt(mediaType, exts), ".")
	}
	_, sub, ok := strings.Cut(mediaType, "/")
	if !ok || sub == "" || strings.ContainsAny(sub, `/\.`) {
		return defaultExt
	}
	if i := strings.IndexAny(sub, "+;"); i > 0 {
		sub = sub[:i]
	}
	return sub
}

// preferredExt はよく使われる拡張子を優先する。
// mime.ExtensionsByTypeの順序は実行環境のMIMEデータベースに依存するため。
func preferredExt(mediaType string, exts []string) string {
	preferred := map[string]string{
		"image/jpeg":      ".jpg",
		"image/png":       ".png",
		"audio/ogg":       ".ogg",
		"audio/mpeg":      ".mp3",
		"video/mp4":       ".mp4",
		"application/pdf": ".pdf",
	}
	if ext, ok := preferred[mediaType]; ok {
		return ext
	}
	return exts[0]
}

var _ MediaStore = (*FileMediaStore)(nil)
