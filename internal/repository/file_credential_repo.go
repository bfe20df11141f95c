package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	credentialDirMode  = 0o700
	credentialFileMode = 0o600
	credentialExt      = ".session"
)

// FileCredentialRepo は1アカウント1ファイルでセッション文字列を保存するリポジトリ。
// ファイル名は "<name>.session" で、ディレクトリ外を指す名前は拒否する。
type FileCredentialRepo struct {
	root string
	mu   sync.RWMutex
}

// NewFileCredentialRepo はFileCredentialRepoを生成する。
func NewFileCredentialRepo(root string) *FileCredentialRepo {
	return &FileCredentialRepo{root: filepath.Clean(root)}
}

// EnsureDir は保存先ディレクトリを作成する。起動時に1回呼ぶ。
func (r *FileCredentialRepo) EnsureDir() error {
	if err := os.MkdirAll(r.root, credentialDirMode); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return nil
}

// Load は保存済みのセッション文字列を取得する。
func (r *FileCredentialRepo) Load(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	path, err := r.pathFor(name)
	if err != nil {
		return "", false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read session file %q: %w", name, err)
	}

	blob := strings.TrimSpace(string(data))
	if blob == "" {
		return "", false, nil
	}
	return blob, true, nil
}

// Save はセッション文字列を一時ファイル経由で原子的に書き込む。
// 既存の内容と同一の場合は書き込まない。
func (r *FileCredentialRepo) Save(ctx context.Context, name, blob string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(blob) == "" {
		return fmt.Errorf("session for %q is empty", name)
	}

	path, err := r.pathFor(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, err := os.ReadFile(path); err == nil && string(current) == blob {
		return nil
	}

	if err := os.MkdirAll(r.root, credentialDirMode); err != nil {
		return fmt.Errorf("create sessions directory: %w", err)
	}

	tmp, err := os.CreateTemp(r.root, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file %q: %w", name, err)
	}
	if err := tmp.Chmod(credentialFileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file %q: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename session file %q: %w", name, err)
	}
	return nil
}

// Delete は保存済みのセッション文字列を削除する。
func (r *FileCredentialRepo) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := r.pathFor(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session file %q: %w", name, err)
	}
	return nil
}

func (r *FileCredentialRepo) pathFor(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("account name is empty")
	}
	if strings.ContainsAny(trimmed, `/\`) || trimmed == "." || trimmed == ".." || strings.HasPrefix(trimmed, ".") {
		return "", fmt.Errorf("invalid account name %q", name)
	}
	return filepath.Join(r.root, trimmed+credentialExt), nil
}

// compile-time interface check
var _ CredentialRepository = (*FileCredentialRepo)(nil)
