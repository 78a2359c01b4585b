// Package export はエクスポートジョブのモデル、ストリーミング形式変換、HTTPハンドラーを提供します。
package export

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Format はエクスポートの出力形式を表します。
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat は文字列を検証して Format に変換します。
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatXLSX:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", s)
	}
}

// ContentType は形式に対応するContent-Typeを返します。
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Filename は成果物ファイル名を返します。
func (f Format) Filename() string {
	return "export." + string(f)
}

// Status はジョブのライフサイクル状態を表します。
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Record はレコードソースから取得する1行分のデータです。
type Record map[string]any

// Job はエクスポートリクエスト1件を表します。
// 顧客が専有し、admission経路で作成され、クレームしたワーカーだけが状態を進めます。
type Job struct {
	ID              string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	CustomerID      string         `gorm:"type:varchar(64);not null;index" json:"customer_id"`
	Type            Format         `gorm:"type:varchar(8);not null" json:"type"`
	Payload         datatypes.JSON `gorm:"not null" json:"payload"`
	PayloadHash     string         `gorm:"type:varchar(64);not null;index" json:"payload_hash"`
	Priority        int            `gorm:"not null" json:"priority"`
	Status          Status         `gorm:"type:varchar(16);not null;index" json:"status"`
	Progress        int            `gorm:"not null;default:0" json:"progress"`
	CancelRequested bool           `gorm:"not null;default:false" json:"cancel_requested"`
	ArtifactKey     string         `gorm:"type:varchar(255)" json:"artifact_key"`
	RecordCount     int64          `gorm:"not null;default:0" json:"record_count"`
	FileSize        int64          `gorm:"not null;default:0" json:"file_size"`
	ErrorCode       string         `gorm:"type:varchar(64)" json:"error_code"`
	ErrorMessage    string         `gorm:"type:text" json:"error_message"`
	CompletedAt     *time.Time     `json:"completed_at"`
	ExpiresAt       *time.Time     `json:"expires_at"`
	PurgedAt        *time.Time     `json:"purged_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName はテーブル名を設定します。
func (Job) TableName() string { return "export_jobs" }

// ArtifactPrefix はこのジョブの成果物が置かれるキー接頭辞を返します。
// 末尾の / を含みます。前方一致削除がディレクトリ単位の削除と一致するためです。
func (j *Job) ArtifactPrefix() string {
	return "exports/" + j.ID + "/"
}

// DatasetRow は顧客が取り込んだデータセットの1行です。エクスポートの素材になります。
type DatasetRow struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	CustomerID string         `gorm:"type:varchar(64);not null;index:idx_dataset_rows_lookup,priority:1" json:"customer_id"`
	Dataset    string         `gorm:"type:varchar(191);not null;index:idx_dataset_rows_lookup,priority:2" json:"dataset"`
	Data       datatypes.JSON `gorm:"not null" json:"data"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName はテーブル名を設定します。
func (DatasetRow) TableName() string { return "dataset_rows" }

// Result はエクスポート処理の成果を表します。
type Result struct {
	JobID       string `json:"jobId"`
	ArtifactKey string `json:"artifactKey"`
	RecordCount int64  `json:"recordCount"`
	FileSize    int64  `json:"fileSize"`
	Format      Format `json:"format"`
}

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}
