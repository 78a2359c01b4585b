// Package billing は使用量の記録と上限判定、超過課金の計算を提供します。
package billing

import (
	"strings"
	"time"
)

// Tier はプランの階級を表します。
type Tier string

const (
	TierFree  Tier = "FREE"
	TierPro   Tier = "PRO"
	TierScale Tier = "SCALE"
)

// NormalizeTier は大文字小文字を無視し、未知の文字列をFREEに丸めます。
func NormalizeTier(s string) Tier {
	switch Tier(strings.ToUpper(s)) {
	case TierPro:
		return TierPro
	case TierScale:
		return TierScale
	default:
		return TierFree
	}
}

// DefaultFreeRowLimit はサブスクリプションを持たない顧客に適用する月間行数の上限です。
const DefaultFreeRowLimit int64 = 10000

// Customer は顧客エンティティです。認証キーの検証情報もここに持ちます。
type Customer struct {
	ID         string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(191);not null" json:"name"`
	APIKeyHash string    `gorm:"type:varchar(191);not null" json:"-"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName はテーブル名を設定します。
func (Customer) TableName() string { return "customers" }

// Subscription は顧客のプラン契約です。顧客と1:1で対応します。
type Subscription struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	CustomerID          string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"customer_id"`
	Tier                Tier      `gorm:"type:varchar(16);not null;default:'FREE'" json:"tier"`
	MonthlyRowLimit     int64     `gorm:"not null" json:"monthly_row_limit"`
	OveragePer1000Cents int64     `gorm:"not null;default:0" json:"overage_per_1000_cents"`
	RetentionDays       int       `gorm:"not null;default:7" json:"retention_days"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName はテーブル名を設定します。
func (Subscription) TableName() string { return "subscriptions" }

// UsageRecord は完了ジョブ1件あたりの行数記録です。
// job_id のユニーク制約が二重計上防止の唯一の仕組みです（仕様上の冪等性保証）。
type UsageRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CustomerID string    `gorm:"type:varchar(64);not null;index" json:"customer_id"`
	JobID      string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"job_id"`
	RowCount   int64     `gorm:"not null" json:"row_count"`
	Period     string    `gorm:"type:varchar(7);not null;index" json:"period"` // YYYY-MM (UTC)
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName はテーブル名を設定します。
func (UsageRecord) TableName() string { return "usage_records" }

// UsageAlert はしきい値到達通知の発火記録です。
// (customer, period, threshold) のユニーク制約で「期間ごとに各しきい値1回まで」を保証します。
type UsageAlert struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CustomerID string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_usage_alerts_cpt,priority:1" json:"customer_id"`
	Period     string    `gorm:"type:varchar(7);not null;uniqueIndex:ux_usage_alerts_cpt,priority:2" json:"period"`
	Threshold  int       `gorm:"not null;uniqueIndex:ux_usage_alerts_cpt,priority:3" json:"threshold"` // 80 or 100
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName はテーブル名を設定します。
func (UsageAlert) TableName() string { return "usage_alerts" }

// PeriodOf は時刻をUTCの課金期間ラベル（YYYY-MM）へ変換します。
func PeriodOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodBounds は課金期間の開始と終了（翌月初）をUTCで返します。
func PeriodBounds(t time.Time) (start, end time.Time) {
	u := t.UTC()
	start = time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}

// defaultSubscription はサブスクリプション不在時に適用するFREE相当の既定値です。
func defaultSubscription(customerID string) *Subscription {
	return &Subscription{
		CustomerID:      customerID,
		Tier:            TierFree,
		MonthlyRowLimit: DefaultFreeRowLimit,
		RetentionDays:   7,
	}
}
