package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrJobNotFound は対象ジョブが存在しない場合に返されます。
var ErrJobNotFound = errors.New("export job not found")

// Store はエクスポートジョブの永続化を担当します。
type Store struct {
	db *gorm.DB
}

// NewStore はジョブストアを作成します。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create はジョブを新規保存します。
func (s *Store) Create(ctx context.Context, job *Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create export job: %w", err)
	}
	return nil
}

// Get は顧客スコープでジョブを取得します。他顧客のジョブは存在しない扱いです。
func (s *Store) Get(ctx context.Context, id, customerID string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).
		Where("id = ? AND customer_id = ?", id, customerID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load export job: %w", err)
	}
	return &job, nil
}

// GetAny は顧客スコープなしでジョブを取得します。ワーカー専用です。
func (s *Store) GetAny(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to load export job: %w", err)
	}
	return &job, nil
}

// Pagination は一覧レスポンスのページング情報です。
type Pagination struct {
	Total           int64 `json:"total"`
	Page            int   `json:"page"`
	PageSize        int   `json:"pageSize"`
	TotalPages      int   `json:"totalPages"`
	HasNextPage     bool  `json:"hasNextPage"`
	HasPreviousPage bool  `json:"hasPreviousPage"`
}

// List は顧客のジョブを新しい順にページングして返します。
// status が空でなければそのステータスのみに絞り込みます。
func (s *Store) List(ctx context.Context, customerID string, status Status, page, pageSize int) ([]Job, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&Job{}).Where("customer_id = ?", customerID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, Pagination{}, fmt.Errorf("failed to count export jobs: %w", err)
	}

	var jobs []Job
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&jobs).Error
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("failed to list export jobs: %w", err)
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	pagination := Pagination{
		Total:           total,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1 && total > 0,
	}
	return jobs, pagination, nil
}

// InsertDatasetRows はデータセット行をまとめて保存します。
func (s *Store) InsertDatasetRows(ctx context.Context, rows []DatasetRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 200).Error; err != nil {
		return fmt.Errorf("failed to insert dataset rows: %w", err)
	}
	return nil
}

// MarkProcessing はジョブをPROCESSINGへ遷移させます。
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	return s.updateJob(ctx, id, map[string]any{
		"status":   StatusProcessing,
		"progress": 0,
	})
}

// UpdateProgress は進捗を更新します。進捗は後退させません。
func (s *Store) UpdateProgress(ctx context.Context, id string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	result := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ? AND progress < ?", id, percent).
		Update("progress", percent)
	if result.Error != nil {
		return fmt.Errorf("failed to update job progress: %w", result.Error)
	}
	return nil
}

// MarkCompleted は成果物情報と有効期限を記録してCOMPLETEDへ遷移させます。
func (s *Store) MarkCompleted(ctx context.Context, id string, result Result, completedAt, expiresAt time.Time) error {
	return s.updateJob(ctx, id, map[string]any{
		"status":       StatusCompleted,
		"progress":     100,
		"artifact_key": result.ArtifactKey,
		"record_count": result.RecordCount,
		"file_size":    result.FileSize,
		"completed_at": completedAt,
		"expires_at":   expiresAt,
	})
}

// MarkFailed はエラー情報を記録してFAILEDへ遷移させます。
func (s *Store) MarkFailed(ctx context.Context, id, code, message string) error {
	return s.updateJob(ctx, id, map[string]any{
		"status":        StatusFailed,
		"error_code":    code,
		"error_message": message,
	})
}

// RequestCancel はキャンセル要求フラグを立てます。
// すでに終了しているジョブには作用しません。
func (s *Store) RequestCancel(ctx context.Context, id, customerID string) (*Job, error) {
	job, err := s.Get(ctx, id, customerID)
	if err != nil {
		return nil, err
	}
	if job.Status == StatusCompleted || job.Status == StatusFailed {
		return job, nil
	}
	result := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ?", id).
		Update("cancel_requested", true)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to request job cancel: %w", result.Error)
	}
	job.CancelRequested = true
	return job, nil
}

// IsCancelRequested はキャンセル要求の有無を返します。
func (s *Store) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.db.WithContext(ctx).
		Model(&Job{}).
		Where("id = ?", id).
		Pluck("cancel_requested", &requested).Error
	if err != nil {
		return false, fmt.Errorf("failed to check cancel flag: %w", err)
	}
	return requested, nil
}

// FindExpired は有効期限切れで未パージのCOMPLETEDジョブを返します。
func (s *Store) FindExpired(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []Job
	err := s.db.WithContext(ctx).
		Where("status = ? AND purged_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?", StatusCompleted, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find expired jobs: %w", err)
	}
	return jobs, nil
}

// MarkPurged は成果物削除済みの印を付けます。
func (s *Store) MarkPurged(ctx context.Context, id string, purgedAt time.Time) error {
	return s.updateJob(ctx, id, map[string]any{
		"purged_at":    purgedAt,
		"artifact_key": "",
	})
}

func (s *Store) updateJob(ctx context.Context, id string, values map[string]any) error {
	result := s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return fmt.Errorf("failed to update export job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}
