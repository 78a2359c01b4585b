package main

import (
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yourusername/export-forge/internal/admission"
	"github.com/yourusername/export-forge/internal/alerting"
	"github.com/yourusername/export-forge/internal/audit"
	"github.com/yourusername/export-forge/internal/billing"
	"github.com/yourusername/export-forge/internal/config"
	"github.com/yourusername/export-forge/internal/export"
	"github.com/yourusername/export-forge/internal/jobs"
	"github.com/yourusername/export-forge/internal/retention"
	"github.com/yourusername/export-forge/internal/storage"
)

// application はHTTP層へ渡す配線済みコンポーネントの束です。
type application struct {
	cfg     *config.Config
	db      *gorm.DB
	files   storage.Storage
	signer  *storage.Signer
	breaker *admission.Breaker
	billing *billing.Service
	store   *export.Store
	manager *jobs.Manager
	logger  *log.Logger
}

// setupJobs はストレージ・課金・ワーカー・定期タスクを組み立てます。
func setupJobs(cfg *config.Config, db *gorm.DB, logger *log.Logger) (*application, error) {
	files, err := storage.NewLocal(cfg.StorageDir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSigner(cfg.DownloadSignSecret)

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	breaker := admission.NewBreaker(
		redis.NewClient(opt),
		cfg.BreakerThreshold,
		time.Duration(cfg.BreakerWindowSeconds)*time.Second,
		cfg.BreakerFailOpen,
		logger,
	)

	billingService := billing.NewService(db, nil, logger)
	exportService := export.NewService(db, files, billingService, cfg.ExportBatchSize, "", export.RetentionDays{
		Free:  cfg.RetentionFreeDays,
		Pro:   cfg.RetentionProDays,
		Scale: cfg.RetentionScaleDays,
	}, logger)

	auditLog := audit.NewLog(db)
	manager, err := jobs.NewManager(cfg, exportService, auditLog, logger)
	if err != nil {
		return nil, err
	}

	// しきい値通知はワーカー経由で非同期配送する
	billingService.SetAlertDispatcher(manager)

	store := exportService.Store()
	manager.SetPurger(retention.NewPurger(store, files, 100, logger))
	manager.SetMonitor(alerting.NewMonitor(
		db,
		manager,
		&alerting.LogNotifier{Logger: logger},
		cfg.AlertFailedJobsThreshold,
		cfg.AlertQueueDepthThreshold,
		time.Hour,
		logger,
	))

	return &application{
		cfg:     cfg,
		db:      db,
		files:   files,
		signer:  signer,
		breaker: breaker,
		billing: billingService,
		store:   store,
		manager: manager,
		logger:  logger,
	}, nil
}
