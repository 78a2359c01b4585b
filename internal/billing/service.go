package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AlertThresholds は使用量通知を発火するプラン上限に対する割合です。
var AlertThresholds = []int{80, 100}

// Alert は使用量しきい値到達の通知内容です。
type Alert struct {
	CustomerID  string  `json:"customerId"`
	Period      string  `json:"period"`
	Threshold   int     `json:"threshold"`
	Usage       int64   `json:"usage"`
	Limit       int64   `json:"limit"`
	PercentUsed float64 `json:"percentUsed"`
}

// AlertDispatcher はしきい値通知を非同期に配送します。
// 配送の失敗は計測経路を失敗させてはなりません（ベストエフォート）。
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert Alert) error
}

// CapResult は使用量上限判定の結果です。
type CapResult struct {
	Allowed     bool
	Tier        Tier
	Usage       int64
	Limit       int64
	PercentUsed float64
}

// Service は使用量の記録・集計・上限判定を担います。
type Service struct {
	db         *gorm.DB
	dispatcher AlertDispatcher
	logger     *log.Logger
	now        func() time.Time
}

// NewService は Service を作成します。dispatcher は nil でもかまいません（通知なし）。
func NewService(db *gorm.DB, dispatcher AlertDispatcher, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		db:         db,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// SetAlertDispatcher は通知の配送先を差し替えます。配線順の都合で後から設定できます。
func (s *Service) SetAlertDispatcher(d AlertDispatcher) {
	s.dispatcher = d
}

// RecordJobUsage は完了ジョブの行数を記録します。
// 同じ jobID に対する2回目以降の呼び出しは no-op です。キューの再配送で
// 同一ジョブが再実行されても、job_id のユニーク制約により二重計上されません。
// 重複以外の永続化エラーはそのまま呼び出し元へ伝播します。
func (s *Service) RecordJobUsage(ctx context.Context, customerID, jobID string, rowCount int64) error {
	if customerID == "" {
		return fmt.Errorf("customerID is required")
	}
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	if rowCount < 0 {
		return fmt.Errorf("rowCount must not be negative")
	}

	record := &UsageRecord{
		CustomerID: customerID,
		JobID:      jobID,
		RowCount:   rowCount,
		Period:     PeriodOf(s.now()),
	}

	// ユニーク制約の衝突だけを成功扱いにする。DoNothing + RowsAffected==0 が
	// ストアの競合コード検査に相当し、他のエラーはすべて伝播させる。
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return fmt.Errorf("failed to insert usage record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// 再配送による重複。記録済みなので何もしない
		return nil
	}

	// しきい値通知は計測経路を決してブロックしない
	if err := s.checkThresholds(ctx, customerID); err != nil {
		s.logger.Printf("usage threshold check failed customer=%s: %v", customerID, err)
	}
	return nil
}

// GetMonthlyUsage は現在の課金期間（UTC月）の行数合計を返します。
func (s *Service) GetMonthlyUsage(ctx context.Context, customerID string) (int64, error) {
	if customerID == "" {
		return 0, fmt.Errorf("customerID is required")
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&UsageRecord{}).
		Where("customer_id = ? AND period = ?", customerID, PeriodOf(s.now())).
		Select("COALESCE(SUM(row_count), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return total, nil
}

// GetSubscription は顧客のサブスクリプションを返します。
// 存在しない場合はFREE相当の既定値を返します。
func (s *Service) GetSubscription(ctx context.Context, customerID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return defaultSubscription(customerID), nil
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	// 保存値の表記ゆれでティア判定がすり抜けないように正規化して返す
	sub.Tier = NormalizeTier(string(sub.Tier))
	if sub.MonthlyRowLimit <= 0 {
		sub.MonthlyRowLimit = DefaultFreeRowLimit
	}
	return &sub, nil
}

// CheckUsageCap は新規ジョブを受け付けてよいかを判定します。
// FREE（またはサブスクリプション不在）は上限到達でブロックし、
// 有料プランは常に許可します（超過分は課金で回収）。
func (s *Service) CheckUsageCap(ctx context.Context, customerID string) (CapResult, error) {
	sub, err := s.GetSubscription(ctx, customerID)
	if err != nil {
		return CapResult{}, err
	}
	usage, err := s.GetMonthlyUsage(ctx, customerID)
	if err != nil {
		return CapResult{}, err
	}

	res := CapResult{
		Allowed: true,
		Tier:    sub.Tier,
		Usage:   usage,
		Limit:   sub.MonthlyRowLimit,
	}
	if sub.MonthlyRowLimit > 0 {
		res.PercentUsed = float64(usage) / float64(sub.MonthlyRowLimit) * 100
	}
	if sub.Tier == TierFree && usage >= sub.MonthlyRowLimit {
		res.Allowed = false
	}
	return res, nil
}

// Summary は使用量サマリーAPIのレスポンス内容です。
type Summary struct {
	Plan                        Tier      `json:"plan"`
	TotalRows                   int64     `json:"totalRows"`
	Limit                       int64     `json:"limit"`
	PercentUsed                 float64   `json:"percentUsed"`
	OverageRows                 int64     `json:"overageRows"`
	EstimatedOverageChargeCents int64     `json:"estimatedOverageChargeCents"`
	BillingPeriod               string    `json:"billingPeriod"`
	CurrentPeriodStart          time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd            time.Time `json:"currentPeriodEnd"`
}

// GetSummary は現在の課金期間の使用量サマリーを返します。
func (s *Service) GetSummary(ctx context.Context, customerID string) (*Summary, error) {
	sub, err := s.GetSubscription(ctx, customerID)
	if err != nil {
		return nil, err
	}
	usage, err := s.GetMonthlyUsage(ctx, customerID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	start, end := PeriodBounds(now)
	overage := CalculateOverage(usage, sub.MonthlyRowLimit, sub.OveragePer1000Cents)
	if sub.Tier == TierFree {
		// FREEは超過を許さないため請求見込みは常に0
		overage.OverageChargeCents = 0
	}

	summary := &Summary{
		Plan:                        sub.Tier,
		TotalRows:                   usage,
		Limit:                       sub.MonthlyRowLimit,
		OverageRows:                 overage.OverageRows,
		EstimatedOverageChargeCents: overage.OverageChargeCents,
		BillingPeriod:               PeriodOf(now),
		CurrentPeriodStart:          start,
		CurrentPeriodEnd:            end,
	}
	if sub.MonthlyRowLimit > 0 {
		summary.PercentUsed = float64(usage) / float64(sub.MonthlyRowLimit) * 100
	}
	return summary, nil
}

// RetentionDaysFor は階級に対応する保持日数を返します（設定で上書きされるまでの既定値）。
func RetentionDaysFor(tier Tier, freeDays, proDays, scaleDays int) int {
	switch tier {
	case TierScale:
		return scaleDays
	case TierPro:
		return proDays
	default:
		return freeDays
	}
}

// checkThresholds は使用率がしきい値に到達していれば通知を発火します。
// ユニーク制約の衝突は「通知済み」として扱い、各しきい値につき期間ごとに1回だけ発火します。
func (s *Service) checkThresholds(ctx context.Context, customerID string) error {
	sub, err := s.GetSubscription(ctx, customerID)
	if err != nil {
		return err
	}
	if sub.MonthlyRowLimit <= 0 {
		return nil
	}
	usage, err := s.GetMonthlyUsage(ctx, customerID)
	if err != nil {
		return err
	}

	percent := float64(usage) / float64(sub.MonthlyRowLimit) * 100
	period := PeriodOf(s.now())

	for _, threshold := range AlertThresholds {
		if percent < float64(threshold) {
			continue
		}
		result := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "customer_id"}, {Name: "period"}, {Name: "threshold"}},
				DoNothing: true,
			}).
			Create(&UsageAlert{
				CustomerID: customerID,
				Period:     period,
				Threshold:  threshold,
			})
		if result.Error != nil {
			s.logger.Printf("failed to persist usage alert customer=%s threshold=%d: %v", customerID, threshold, result.Error)
			continue
		}
		if result.RowsAffected == 0 {
			// すでに通知済み
			continue
		}
		if s.dispatcher == nil {
			continue
		}
		alert := Alert{
			CustomerID:  customerID,
			Period:      period,
			Threshold:   threshold,
			Usage:       usage,
			Limit:       sub.MonthlyRowLimit,
			PercentUsed: percent,
		}
		if err := s.dispatcher.Dispatch(ctx, alert); err != nil {
			// 配送失敗はログのみ。計測経路には影響させない
			s.logger.Printf("failed to dispatch usage alert customer=%s threshold=%d: %v", customerID, threshold, err)
		}
	}
	return nil
}
