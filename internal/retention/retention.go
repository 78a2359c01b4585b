package retention

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/export-forge/internal/export"
	"github.com/yourusername/export-forge/internal/storage"
)

// Purger は保持期限を過ぎた成果物を削除します。
// 定期タスクから呼ばれ、1回の実行で batchSize 件まで処理します。
type Purger struct {
	store     *export.Store
	files     storage.Storage
	batchSize int
	logger    *log.Logger
	now       func() time.Time
}

// NewPurger はパージ処理を作成します。
func NewPurger(store *export.Store, files storage.Storage, batchSize int, logger *log.Logger) *Purger {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Purger{
		store:     store,
		files:     files,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// PurgeExpired は期限切れジョブの成果物を削除し、パージ済みの印を付けます。
// 削除件数を返します。個別の失敗はログに残して次のジョブへ進みます。
func (p *Purger) PurgeExpired(ctx context.Context) (int, error) {
	now := p.now().UTC()
	jobs, err := p.store.FindExpired(ctx, now, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired jobs: %w", err)
	}

	purged := 0
	for i := range jobs {
		job := &jobs[i]
		if err := p.files.DeletePrefix(ctx, job.ArtifactPrefix()); err != nil {
			p.logger.Printf("failed to delete artifacts for job %s: %v", job.ID, err)
			continue
		}
		if err := p.store.MarkPurged(ctx, job.ID, now); err != nil {
			p.logger.Printf("failed to mark job %s purged: %v", job.ID, err)
			continue
		}
		purged++
	}
	if purged > 0 {
		p.logger.Printf("purged %d expired export artifacts", purged)
	}
	return purged, nil
}
