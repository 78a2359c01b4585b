package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local はローカルファイルシステム上のブロブストア実装です（開発環境用）。
type Local struct {
	baseDir string
}

// NewLocal は baseDir 配下にオブジェクトを保存する Local を作成します。
func NewLocal(baseDir string) (*Local, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &Local{baseDir: baseDir}, nil
}

// Save は r の内容を key に保存します。
func (l *Local) Save(ctx context.Context, key string, r io.Reader) (int64, error) {
	w, err := l.Create(ctx, key)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(w, r)
	closeErr := w.Close()
	if copyErr != nil {
		return n, fmt.Errorf("failed to write object %s: %w", key, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("failed to close object %s: %w", key, closeErr)
	}
	return n, nil
}

// Create は key に対するストリーム書き込み用のファイルハンドルを返します。
func (l *Local) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create object dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to create object %s: %w", key, err)
	}
	return file, nil
}

// Open は key の内容を返します。
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, 0, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, err
	}
	return file, info.Size(), nil
}

// Delete は key を削除します。
func (l *Local) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// DeletePrefix は prefix 配下のオブジェクトを一括削除します。
func (l *Local) DeletePrefix(ctx context.Context, prefix string) error {
	path, err := l.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}
	return nil
}

// resolve はキーをベースディレクトリ配下の安全なパスへ変換します。
func (l *Local) resolve(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key: %s", key)
	}
	return filepath.Join(l.baseDir, cleaned), nil
}
