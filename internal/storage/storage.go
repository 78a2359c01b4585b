// Package storage は成果物のブロブストア抽象化とローカル実装を提供します。
package storage

import (
	"context"
	"io"
)

// Storage は成果物ストアのインターフェースです。
// 本番ではGCS/S3などのオブジェクトストレージ、開発環境ではローカルディスクを想定します。
type Storage interface {
	// Save は r の内容を key に保存し、書き込んだバイト数を返します。
	Save(ctx context.Context, key string, r io.Reader) (int64, error)
	// Create は key に対するストリーム書き込み用ハンドルを返します。
	Create(ctx context.Context, key string) (io.WriteCloser, error)
	// Open は key の内容とサイズを返します。存在しない場合は fs.ErrNotExist を返します。
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// Delete は key を削除します。存在しない場合もエラーにしません。
	Delete(ctx context.Context, key string) error
	// DeletePrefix は prefix 配下のオブジェクトを一括削除します。
	DeletePrefix(ctx context.Context, prefix string) error
}
