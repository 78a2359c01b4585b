package export

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// Source はエクスポート対象レコードをバッチ単位で供給します。
// Next は終端で空バッチを返します。
type Source interface {
	// Next は次のバッチを返します。終端では長さ0のスライスを返します。
	Next(ctx context.Context) ([]Record, error)
	// Total は既知であれば総レコード数を返します（進捗計算用のヒント）。
	Total(ctx context.Context) (int64, error)
	Close() error
}

// SourceFactory はジョブのペイロードからSourceを構築します。
type SourceFactory func(ctx context.Context, job *Job) (Source, error)

// DatasetSource は dataset_rows テーブルをidカーソルでページングするSourceです。
type DatasetSource struct {
	db         *gorm.DB
	customerID string
	dataset    string
	batchSize  int
	lastID     uint
	done       bool
}

// NewDatasetSource はデータセットを batchSize 件ずつ読み出すSourceを作成します。
func NewDatasetSource(db *gorm.DB, customerID, dataset string, batchSize int) (*DatasetSource, error) {
	if customerID == "" {
		return nil, fmt.Errorf("customer id is required")
	}
	if dataset == "" {
		return nil, fmt.Errorf("dataset name is required")
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &DatasetSource{
		db:         db,
		customerID: customerID,
		dataset:    dataset,
		batchSize:  batchSize,
	}, nil
}

func (s *DatasetSource) Next(ctx context.Context) ([]Record, error) {
	if s.done {
		return nil, nil
	}

	var rows []DatasetRow
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND dataset = ? AND id > ?", s.customerID, s.dataset, s.lastID).
		Order("id ASC").
		Limit(s.batchSize).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dataset rows: %w", err)
	}
	if len(rows) == 0 {
		s.done = true
		return nil, nil
	}
	s.lastID = rows[len(rows)-1].ID

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		var rec Record
		if err := json.Unmarshal(row.Data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode dataset row %d: %w", row.ID, err)
		}
		records = append(records, rec)
	}
	if len(rows) < s.batchSize {
		s.done = true
	}
	return records, nil
}

func (s *DatasetSource) Total(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&DatasetRow{}).
		Where("customer_id = ? AND dataset = ?", s.customerID, s.dataset).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count dataset rows: %w", err)
	}
	return count, nil
}

func (s *DatasetSource) Close() error {
	return nil
}
