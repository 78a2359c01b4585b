package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry は監査ログの1レコードです。追記のみで、更新・削除は行いません。
type Entry struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	CustomerID string         `gorm:"type:varchar(64);not null;index" json:"customer_id"`
	JobID      string         `gorm:"type:varchar(64);index" json:"job_id"`
	Event      string         `gorm:"type:varchar(64);not null" json:"event"`
	Detail     datatypes.JSON `json:"detail"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName はテーブル名を設定します。
func (Entry) TableName() string { return "audit_entries" }

// Log は監査ログへの追記と参照を提供します。
type Log struct {
	db *gorm.DB
}

// NewLog は監査ログを作成します。
func NewLog(db *gorm.DB) *Log {
	return &Log{db: db}
}

// Append はイベントを1件追記します。
func (l *Log) Append(ctx context.Context, entry *Entry) error {
	if entry.Event == "" {
		return fmt.Errorf("event is required")
	}
	if err := l.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query は顧客の監査ログを新しい順に返します。jobID が空でなければ絞り込みます。
func (l *Log) Query(ctx context.Context, customerID, jobID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := l.db.WithContext(ctx).Where("customer_id = ?", customerID)
	if jobID != "" {
		query = query.Where("job_id = ?", jobID)
	}
	var entries []Entry
	if err := query.Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return entries, nil
}
