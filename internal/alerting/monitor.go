package alerting

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/export-forge/internal/export"
)

// Notifier はアラートの送信先です。
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Alert は監視が検知した異常を表します。
type Alert struct {
	Kind    string         `json:"kind"` // "failed_jobs" / "queue_depth"
	Message string         `json:"message"`
	Value   int64          `json:"value"`
	Limit   int64          `json:"limit"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// LogNotifier はアラートをログへ書くだけのNotifierです。既定の送信先になります。
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.Logger.Printf("ALERT [%s] %s (value=%d limit=%d)", alert.Kind, alert.Message, alert.Value, alert.Limit)
	return nil
}

// QueueDepths はキューごとの滞留ジョブ数を返します。実装は jobs.Manager です。
type QueueDepths interface {
	QueueDepths(ctx context.Context) (map[string]int64, error)
}

// Monitor は失敗ジョブ数とキュー滞留を定期的に点検します。
// 同じ異常が続く間は再通知せず、回復して再発したときにだけ通知し直します。
type Monitor struct {
	db       *gorm.DB
	queues   QueueDepths
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time

	failedThreshold int64
	depthThreshold  int64
	lookback        time.Duration

	failedActive bool
	depthActive  bool
}

// NewMonitor は監視を作成します。lookback は失敗ジョブの集計ウィンドウです。
func NewMonitor(db *gorm.DB, queues QueueDepths, notifier Notifier, failedThreshold, depthThreshold int64, lookback time.Duration, logger *log.Logger) *Monitor {
	if lookback <= 0 {
		lookback = time.Hour
	}
	if notifier == nil {
		notifier = &LogNotifier{Logger: logger}
	}
	return &Monitor{
		db:              db,
		queues:          queues,
		notifier:        notifier,
		logger:          logger,
		now:             time.Now,
		failedThreshold: failedThreshold,
		depthThreshold:  depthThreshold,
		lookback:        lookback,
	}
}

// Tick は1回分の点検を実行します。定期タスクから呼ばれます。
func (m *Monitor) Tick(ctx context.Context) error {
	if err := m.checkFailedJobs(ctx); err != nil {
		return err
	}
	return m.checkQueueDepth(ctx)
}

func (m *Monitor) checkFailedJobs(ctx context.Context) error {
	since := m.now().UTC().Add(-m.lookback)
	var failed int64
	err := m.db.WithContext(ctx).
		Model(&export.Job{}).
		Where("status = ? AND updated_at >= ?", export.StatusFailed, since).
		Count(&failed).Error
	if err != nil {
		return fmt.Errorf("failed to count failed jobs: %w", err)
	}

	exceeded := failed >= m.failedThreshold
	if exceeded && !m.failedActive {
		m.notify(ctx, Alert{
			Kind:    "failed_jobs",
			Message: "失敗ジョブ数がしきい値を超えています。",
			Value:   failed,
			Limit:   m.failedThreshold,
		})
	}
	m.failedActive = exceeded
	return nil
}

func (m *Monitor) checkQueueDepth(ctx context.Context) error {
	depths, err := m.queues.QueueDepths(ctx)
	if err != nil {
		return fmt.Errorf("failed to inspect queue depths: %w", err)
	}

	var total int64
	detail := make(map[string]any, len(depths))
	for queue, depth := range depths {
		total += depth
		detail[queue] = depth
	}

	exceeded := total >= m.depthThreshold
	if exceeded && !m.depthActive {
		m.notify(ctx, Alert{
			Kind:    "queue_depth",
			Message: "キューの滞留ジョブ数がしきい値を超えています。",
			Value:   total,
			Limit:   m.depthThreshold,
			Detail:  detail,
		})
	}
	m.depthActive = exceeded
	return nil
}

func (m *Monitor) notify(ctx context.Context, alert Alert) {
	if err := m.notifier.Notify(ctx, alert); err != nil {
		m.logger.Printf("failed to deliver alert %s: %v", alert.Kind, err)
	}
}
