package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/export-forge/internal/alerting"
	"github.com/yourusername/export-forge/internal/audit"
	"github.com/yourusername/export-forge/internal/billing"
	"github.com/yourusername/export-forge/internal/config"
	"github.com/yourusername/export-forge/internal/export"
	"github.com/yourusername/export-forge/internal/retention"
)

const (
	taskTypeExport  = "export:process"
	taskTypePurge   = "retention:purge"
	taskTypeMonitor = "monitor:tick"
	taskTypeAlert   = "alert:deliver"
)

// Manager はジョブの投入とワーカー・定期タスクの管理を担います。
type Manager struct {
	cfg           *config.Config
	client        *asynq.Client
	server        *asynq.Server
	scheduler     *asynq.Scheduler
	inspector     *asynq.Inspector
	mux           *asynq.ServeMux
	exportService *export.Service
	store         *export.Store
	auditLog      *audit.Log
	purger        *retention.Purger
	monitor       *alerting.Monitor
	logger        *log.Logger
}

// TaskPayload はエクスポートジョブのタスクペイロードです。
type TaskPayload struct {
	JobID      string `json:"jobId"`
	CustomerID string `json:"customerId"`
	Tier       string `json:"tier"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, exportService *export.Service, auditLog *audit.Log, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if exportService == nil {
		return nil, errors.New("exportService is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			// 上位プランのキューを常に先に消化する
			StrictPriority: true,
			Queues:         queuePriorities(),
		},
	)
	scheduler := asynq.NewScheduler(opt, nil)
	inspector := asynq.NewInspector(opt)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:           cfg,
		client:        client,
		server:        server,
		scheduler:     scheduler,
		inspector:     inspector,
		mux:           mux,
		exportService: exportService,
		store:         exportService.Store(),
		auditLog:      auditLog,
		logger:        logger,
	}
	mux.HandleFunc(taskTypeExport, manager.handleExportTask)
	mux.HandleFunc(taskTypePurge, manager.handlePurgeTask)
	mux.HandleFunc(taskTypeMonitor, manager.handleMonitorTask)
	mux.HandleFunc(taskTypeAlert, manager.handleAlertTask)
	return manager, nil
}

// SetPurger は定期パージ処理を設定します。
func (m *Manager) SetPurger(p *retention.Purger) {
	m.purger = p
}

// SetMonitor は定期監視を設定します。
func (m *Manager) SetMonitor(mon *alerting.Monitor) {
	m.monitor = mon
}

// StartWorkers は Asynq サーバーと定期タスクスケジューラーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() error {
	if err := m.registerPeriodicTasks(); err != nil {
		return err
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.logger.Printf("asynq server stopped with error: %v", err)
		}
	}()
	go func() {
		if err := m.scheduler.Run(); err != nil {
			m.logger.Printf("asynq scheduler stopped with error: %v", err)
		}
	}()
	return nil
}

// Shutdown はサーバー・スケジューラー・クライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.scheduler.Shutdown()
	m.server.Shutdown()
	m.inspector.Close()
	m.client.Close()
	return nil
}

func (m *Manager) registerPeriodicTasks() error {
	purgeSpec := fmt.Sprintf("@every %dm", m.cfg.PurgeIntervalMinutes)
	if _, err := m.scheduler.Register(purgeSpec, asynq.NewTask(taskTypePurge, nil), asynq.Queue(maintenanceQueue)); err != nil {
		return fmt.Errorf("failed to register purge task: %w", err)
	}
	monitorSpec := fmt.Sprintf("@every %dm", m.cfg.MonitorIntervalMinutes)
	if _, err := m.scheduler.Register(monitorSpec, asynq.NewTask(taskTypeMonitor, nil), asynq.Queue(maintenanceQueue)); err != nil {
		return fmt.Errorf("failed to register monitor task: %w", err)
	}
	return nil
}

// EnqueueExport はエクスポートジョブを契約プランに対応するキューへ投入します。
func (m *Manager) EnqueueExport(ctx context.Context, jobID, customerID, tier string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	body, err := json.Marshal(&TaskPayload{
		JobID:      jobID,
		CustomerID: customerID,
		Tier:       tier,
	})
	if err != nil {
		return err
	}

	task := asynq.NewTask(taskTypeExport, body, asynq.Queue(queueForTier(tier)))
	opts := []asynq.Option{
		asynq.MaxRetry(1),
		asynq.Timeout(m.exportTimeout()),
	}
	if _, err := m.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue export task: %w", err)
	}
	m.appendAudit(ctx, customerID, jobID, "export.enqueued", map[string]any{"tier": tier})
	return nil
}

// exportTimeout はエクスポートタスク1件の実行時間上限を返します。
func (m *Manager) exportTimeout() time.Duration {
	minutes := m.cfg.ExportTimeoutMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

// QueueDepths はキューごとの滞留ジョブ数を返します。監視から呼ばれます。
func (m *Manager) QueueDepths(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64, len(exportQueues))
	for _, queue := range exportQueues {
		info, err := m.inspector.GetQueueInfo(queue)
		if err != nil {
			// 未使用のキューはまだ存在しないことがある
			continue
		}
		depths[queue] = int64(info.Pending + info.Active)
	}
	return depths, nil
}

// DispatchUsageAlert は使用量しきい値通知を配送タスクとして投入します。
// billing.AlertDispatcher の実装です。
func (m *Manager) DispatchUsageAlert(ctx context.Context, alert billing.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeAlert, body, asynq.Queue(maintenanceQueue))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(2)); err != nil {
		return fmt.Errorf("failed to enqueue alert task: %w", err)
	}
	return nil
}

// Dispatch は billing.AlertDispatcher を満たします。
func (m *Manager) Dispatch(ctx context.Context, alert billing.Alert) error {
	return m.DispatchUsageAlert(ctx, alert)
}

func (m *Manager) handleExportTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}

	runErr := m.exportService.RunJob(ctx, payload.JobID, func(stage string, percent int) {
		// 進捗の永続化はサービス側で行う。ここではログだけ残す。
		m.logger.Printf("job %s progress stage=%s percent=%d", payload.JobID, stage, percent)
	})

	job, err := m.store.GetAny(ctx, payload.JobID)
	if err == nil {
		switch job.Status {
		case export.StatusCompleted:
			m.appendAudit(ctx, job.CustomerID, job.ID, "export.completed", map[string]any{
				"recordCount": job.RecordCount,
				"fileSize":    job.FileSize,
			})
		case export.StatusFailed:
			m.appendAudit(ctx, job.CustomerID, job.ID, "export.failed", map[string]any{
				"code": job.ErrorCode,
			})
		}
	}
	return runErr
}

func (m *Manager) handlePurgeTask(ctx context.Context, _ *asynq.Task) error {
	if m.purger == nil {
		return nil
	}
	_, err := m.purger.PurgeExpired(ctx)
	return err
}

func (m *Manager) handleMonitorTask(ctx context.Context, _ *asynq.Task) error {
	if m.monitor == nil {
		return nil
	}
	return m.monitor.Tick(ctx)
}

func (m *Manager) handleAlertTask(ctx context.Context, task *asynq.Task) error {
	var alert billing.Alert
	if err := json.Unmarshal(task.Payload(), &alert); err != nil {
		return err
	}
	m.logger.Printf("usage alert: customer=%s period=%s threshold=%d%% usage=%d/%d",
		alert.CustomerID, alert.Period, alert.Threshold, alert.Usage, alert.Limit)
	m.appendAudit(ctx, alert.CustomerID, "", "usage.threshold", map[string]any{
		"period":    alert.Period,
		"threshold": alert.Threshold,
		"usage":     alert.Usage,
		"limit":     alert.Limit,
	})
	return nil
}

func (m *Manager) appendAudit(ctx context.Context, customerID, jobID, event string, detail map[string]any) {
	if m.auditLog == nil {
		return
	}
	var body []byte
	if detail != nil {
		body, _ = json.Marshal(detail)
	}
	err := m.auditLog.Append(ctx, &audit.Entry{
		CustomerID: customerID,
		JobID:      jobID,
		Event:      event,
		Detail:     body,
	})
	if err != nil {
		m.logger.Printf("failed to append audit entry %s: %v", event, err)
	}
}
