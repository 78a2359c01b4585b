package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/export-forge/internal/billing"
	"github.com/yourusername/export-forge/internal/storage"
)

// エラーコード一覧。クライアントへそのまま返されます。
const (
	CodeJobNotFound    = "JOB_NOT_FOUND"
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeSourceFailed   = "SOURCE_FAILED"
	CodeConvertFailed  = "CONVERT_FAILED"
	CodeStorageFailed  = "STORAGE_FAILED"
	CodeCanceled       = "CANCELED"
)

// RetentionDays は契約プランごとの成果物保持日数です。
type RetentionDays struct {
	Free  int
	Pro   int
	Scale int
}

// Service はエクスポートジョブの実行を担当します。
// ワーカーから呼ばれ、変換・保存・使用量計上・保持期限の刻印まで行います。
type Service struct {
	store     *Store
	files     storage.Storage
	billing   *billing.Service
	newSource SourceFactory
	batchSize int
	spoolDir  string
	retention RetentionDays
	logger    *log.Logger
	now       func() time.Time
}

// NewService はエクスポートサービスを作成します。
func NewService(db *gorm.DB, files storage.Storage, billingService *billing.Service, batchSize int, spoolDir string, retention RetentionDays, logger *log.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 500
	}
	s := &Service{
		store:     NewStore(db),
		files:     files,
		billing:   billingService,
		batchSize: batchSize,
		spoolDir:  spoolDir,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
	s.newSource = func(ctx context.Context, job *Job) (Source, error) {
		dataset, err := datasetFromPayload(job.Payload)
		if err != nil {
			return nil, err
		}
		return NewDatasetSource(db, job.CustomerID, dataset, batchSize)
	}
	return s
}

// Store はサービスが使うジョブストアを返します。
func (s *Service) Store() *Store {
	return s.store
}

// SetSourceFactory はレコード供給元の構築方法を差し替えます。テスト用です。
func (s *Service) SetSourceFactory(f SourceFactory) {
	if f != nil {
		s.newSource = f
	}
}

// RunJob はジョブを1件実行します。成功時はCOMPLETED、失敗・キャンセル時はFAILEDへ遷移します。
// 進捗は reporter へ通知されると同時にストアへも保存されます。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) error {
	job, err := s.store.GetAny(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return newError(CodeJobNotFound, "ジョブが見つかりません。", err)
		}
		return newError(CodeSourceFailed, "ジョブの読み込みに失敗しました。", err)
	}

	// 再配送されたタスクは何もしない
	if job.Status == StatusCompleted || job.Status == StatusFailed {
		s.logger.Printf("skipping job %s in terminal status %s", job.ID, job.Status)
		return nil
	}

	if job.CancelRequested {
		return s.cancelJob(ctx, job)
	}

	if err := s.store.MarkProcessing(ctx, job.ID); err != nil {
		return newError(CodeSourceFailed, "ジョブの状態更新に失敗しました。", err)
	}
	s.progress(ctx, job.ID, reporter, "preparing", 0)

	result, runErr := s.runConversion(ctx, job, reporter)
	if runErr != nil {
		s.cleanupArtifacts(job)
		var canceled *Error
		if errors.As(runErr, &canceled) && canceled.Code == CodeCanceled {
			if err := s.store.MarkFailed(ctx, job.ID, canceled.Code, canceled.Message); err != nil {
				s.logger.Printf("failed to mark job %s canceled: %v", job.ID, err)
			}
			return nil
		}
		code, message := CodeConvertFailed, "エクスポートの変換に失敗しました。"
		var exportErr *Error
		if errors.As(runErr, &exportErr) {
			code, message = exportErr.Code, exportErr.Message
		}
		if err := s.store.MarkFailed(ctx, job.ID, code, message); err != nil {
			s.logger.Printf("failed to mark job %s failed: %v", job.ID, err)
		}
		return runErr
	}

	completedAt := s.now().UTC()
	expiresAt := completedAt.AddDate(0, 0, s.retentionDaysFor(ctx, job.CustomerID))
	if err := s.store.MarkCompleted(ctx, job.ID, *result, completedAt, expiresAt); err != nil {
		s.cleanupArtifacts(job)
		return newError(CodeStorageFailed, "ジョブの完了記録に失敗しました。", err)
	}

	// 使用量計上は冪等。失敗してもジョブ自体は成功扱いにしてログへ残す。
	if err := s.billing.RecordJobUsage(ctx, job.CustomerID, job.ID, result.RecordCount); err != nil {
		s.logger.Printf("failed to record usage for job %s: %v", job.ID, err)
	}

	s.progress(ctx, job.ID, reporter, "completed", 100)
	return nil
}

func (s *Service) runConversion(ctx context.Context, job *Job, reporter ProgressReporter) (*Result, error) {
	source, err := s.newSource(ctx, job)
	if err != nil {
		var exportErr *Error
		if errors.As(err, &exportErr) {
			return nil, err
		}
		return nil, newError(CodeSourceFailed, "エクスポート対象の取得に失敗しました。", err)
	}
	defer source.Close()

	total, err := source.Total(ctx)
	if err != nil {
		return nil, newError(CodeSourceFailed, "エクスポート対象の件数取得に失敗しました。", err)
	}

	artifactKey := job.ArtifactPrefix() + job.Type.Filename()
	sink, err := s.files.Create(ctx, artifactKey)
	if err != nil {
		return nil, newError(CodeStorageFailed, "成果物ファイルの作成に失敗しました。", err)
	}
	counter := &countingWriter{w: sink}

	converter, err := s.newConverter(job.Type, counter)
	if err != nil {
		sink.Close()
		return nil, err
	}

	// 中断時はコンバーター側のリソース（XLSXのスプールなど）も解放する
	abort := func() {
		converter.Discard()
		sink.Close()
	}

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			abort()
			return nil, newError(CodeCanceled, "ジョブがキャンセルされました。", err)
		}
		requested, err := s.store.IsCancelRequested(ctx, job.ID)
		if err != nil {
			s.logger.Printf("failed to check cancel flag for job %s: %v", job.ID, err)
		} else if requested {
			abort()
			return nil, newError(CodeCanceled, "ジョブがキャンセルされました。", nil)
		}

		batch, err := source.Next(ctx)
		if err != nil {
			abort()
			return nil, newError(CodeSourceFailed, "エクスポート対象の読み出しに失敗しました。", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, rec := range batch {
			if err := converter.WriteRecord(rec); err != nil {
				abort()
				return nil, newError(CodeConvertFailed, "レコードの変換に失敗しました。", err)
			}
			written++
		}
		s.progress(ctx, job.ID, reporter, "converting", conversionPercent(written, total))
	}

	if err := converter.Close(); err != nil {
		sink.Close()
		return nil, newError(CodeConvertFailed, "成果物の仕上げに失敗しました。", err)
	}
	if err := sink.Close(); err != nil {
		return nil, newError(CodeStorageFailed, "成果物ファイルの書き込みに失敗しました。", err)
	}
	s.progress(ctx, job.ID, reporter, "finalizing", 99)

	return &Result{
		JobID:       job.ID,
		ArtifactKey: artifactKey,
		RecordCount: written,
		FileSize:    counter.n,
		Format:      job.Type,
	}, nil
}

// Converter はレコード列を1つの成果物へ変換します。
// 変換を完了せず打ち切る場合は Close の代わりに Discard を呼びます。
type Converter interface {
	WriteRecord(rec Record) error
	Close() error
	Discard()
}

func (s *Service) newConverter(format Format, sink io.Writer) (Converter, error) {
	switch format {
	case FormatCSV:
		return NewCSVConverter(sink), nil
	case FormatJSON:
		return NewJSONConverter(sink), nil
	case FormatXLSX:
		conv, err := NewXLSXConverter(sink, s.spoolDir)
		if err != nil {
			return nil, newError(CodeConvertFailed, "スプレッドシート変換の初期化に失敗しました。", err)
		}
		return conv, nil
	default:
		return nil, newError(CodeInvalidPayload, "未対応のエクスポート形式です。", fmt.Errorf("unsupported format %q", format))
	}
}

func (s *Service) cancelJob(ctx context.Context, job *Job) error {
	s.cleanupArtifacts(job)
	if err := s.store.MarkFailed(ctx, job.ID, CodeCanceled, "ジョブがキャンセルされました。"); err != nil {
		s.logger.Printf("failed to mark job %s canceled: %v", job.ID, err)
	}
	return nil
}

// cleanupArtifacts は中断時の書きかけ成果物を削除します。失敗はログのみ。
func (s *Service) cleanupArtifacts(job *Job) {
	if err := s.files.DeletePrefix(context.Background(), job.ArtifactPrefix()); err != nil {
		s.logger.Printf("failed to clean up artifacts for job %s: %v", job.ID, err)
	}
}

func (s *Service) progress(ctx context.Context, jobID string, reporter ProgressReporter, stage string, percent int) {
	if err := s.store.UpdateProgress(ctx, jobID, percent); err != nil {
		s.logger.Printf("failed to persist progress for job %s: %v", jobID, err)
	}
	reportProgress(reporter, stage, percent)
}

func (s *Service) retentionDaysFor(ctx context.Context, customerID string) int {
	sub, err := s.billing.GetSubscription(ctx, customerID)
	if err != nil {
		s.logger.Printf("failed to load subscription for %s, using free retention: %v", customerID, err)
		return s.retention.Free
	}
	if sub.RetentionDays > 0 {
		return sub.RetentionDays
	}
	return billing.RetentionDaysFor(sub.Tier, s.retention.Free, s.retention.Pro, s.retention.Scale)
}

// conversionPercent は変換中の進捗を 5〜99 の範囲へ収めます。
func conversionPercent(written, total int64) int {
	if total <= 0 {
		return 50
	}
	percent := int(written * 100 / total)
	if percent < 5 {
		percent = 5
	}
	if percent > 99 {
		percent = 99
	}
	return percent
}

func datasetFromPayload(payload []byte) (string, error) {
	var body struct {
		Dataset string `json:"dataset"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", newError(CodeInvalidPayload, "ペイロードの解析に失敗しました。", err)
	}
	if body.Dataset == "" {
		return "", newError(CodeInvalidPayload, "ペイロードに dataset が含まれていません。", nil)
	}
	return body.Dataset, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
