package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/export-forge/internal/admission"
	"github.com/yourusername/export-forge/internal/auth"
	"github.com/yourusername/export-forge/internal/billing"
	"github.com/yourusername/export-forge/internal/canonical"
	"github.com/yourusername/export-forge/internal/storage"
)

// PriorityForTier は契約プランからジョブ優先度を導きます。値が小さいほど優先。
func PriorityForTier(tier string) int {
	switch billing.NormalizeTier(tier) {
	case billing.TierScale:
		return 1
	case billing.TierPro:
		return 5
	default:
		return 10
	}
}

// Admitter は重複バースト遮断の判定を行います。実装は admission.Breaker です。
type Admitter interface {
	CheckAndIncrement(ctx context.Context, callerID, payloadHash string) (admission.Decision, error)
}

// Enqueuer はジョブをワーカーキューへ投入します。実装は jobs.Manager です。
type Enqueuer interface {
	EnqueueExport(ctx context.Context, jobID, customerID, tier string) error
}

// UsageGate は使用量上限の判定とサマリー取得を行います。実装は billing.Service です。
type UsageGate interface {
	CheckUsageCap(ctx context.Context, customerID string) (billing.CapResult, error)
	GetSummary(ctx context.Context, customerID string) (*billing.Summary, error)
}

// HandlerConfig はHTTPハンドラーの設定です。
type HandlerConfig struct {
	PublicBaseURL string        // 署名付きURLのベース（空なら相対パス）
	DownloadTTL   time.Duration // 署名付きURLの有効期間
}

// Handler はエクスポートAPIのHTTPハンドラーです。
type Handler struct {
	store    *Store
	files    storage.Storage
	signer   *storage.Signer
	admitter Admitter
	enqueuer Enqueuer
	usage    UsageGate
	cfg      HandlerConfig
	logger   *log.Logger
	now      func() time.Time
}

// NewHandler はHTTPハンドラーを作成します。
func NewHandler(store *Store, files storage.Storage, signer *storage.Signer, admitter Admitter, enqueuer Enqueuer, usage UsageGate, cfg HandlerConfig, logger *log.Logger) *Handler {
	if cfg.DownloadTTL <= 0 {
		cfg.DownloadTTL = 15 * time.Minute
	}
	return &Handler{
		store:    store,
		files:    files,
		signer:   signer,
		admitter: admitter,
		enqueuer: enqueuer,
		usage:    usage,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes はルーティングを設定します。requireAuth はAPIキー認証ミドルウェアです。
// ダウンロード実体の配信は署名付きURLで保護されるため認証の外に置きます。
func (h *Handler) RegisterRoutes(r gin.IRouter, requireAuth gin.HandlerFunc) {
	authed := r.Group("", requireAuth)
	authed.POST("/exports", h.CreateExport)
	authed.GET("/exports", h.ListExports)
	authed.GET("/exports/:id", h.GetExport)
	authed.POST("/exports/:id/cancel", h.CancelExport)
	authed.GET("/exports/:id/download", h.GetDownloadURL)
	authed.GET("/usage", h.GetUsageSummary)
	authed.POST("/datasets/:dataset/rows", h.IngestRows)

	r.GET("/exports/:id/file", h.ServeFile)
}

type createExportRequest struct {
	Type    string         `json:"type" binding:"required"`
	Payload map[string]any `json:"payload" binding:"required"`
}

// CreateExport はエクスポートジョブを受け付けます。
// 使用量上限・重複バーストの両関門を通過したジョブだけがキューに載ります。
func (h *Handler) CreateExport(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		respondWithError(c, newError("UNAUTHORIZED", "認証情報が見つかりません。", nil))
		return
	}

	var req createExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, newError("VALIDATION_ERROR", "type と payload を指定してください。", err))
		return
	}
	format, err := ParseFormat(req.Type)
	if err != nil {
		respondWithError(c, newError("VALIDATION_ERROR", "type は csv / json / xlsx のいずれかです。", err))
		return
	}
	if _, hasDataset := req.Payload["dataset"]; !hasDataset {
		respondWithError(c, newError("VALIDATION_ERROR", "payload に dataset を指定してください。", nil))
		return
	}

	// 受付判定は重複バーストの遮断が先、使用量上限の確認はあと
	hash, err := canonical.Hash(req.Payload)
	if err != nil {
		respondWithError(c, newError("VALIDATION_ERROR", "payload の正規化に失敗しました。", err))
		return
	}
	decision, err := h.admitter.CheckAndIncrement(c.Request.Context(), identity.CustomerID, hash)
	if err != nil {
		respondWithError(c, newError("VALIDATION_ERROR", "リクエストの受付判定に失敗しました。", err))
		return
	}
	if decision.Blocked {
		if decision.StoreDown {
			respondWithError(c, newError("ADMISSION_UNAVAILABLE", "リクエストの受付を一時停止しています。しばらくしてから再試行してください。", nil))
			return
		}
		respondWithError(c, newError("DUPLICATE_BURST", "同一内容のリクエストが短時間に集中しています。しばらくしてから再試行してください。", nil))
		return
	}

	capResult, err := h.usage.CheckUsageCap(c.Request.Context(), identity.CustomerID)
	if err != nil {
		respondWithError(c, newError("INTERNAL_ERROR", "使用量の確認に失敗しました。", err))
		return
	}
	if !capResult.Allowed {
		respondWithError(c, newError("USAGE_LIMIT_REACHED",
			fmt.Sprintf("今月のエクスポート上限（%d行）に達しています。", capResult.Limit), nil))
		return
	}

	payloadJSON, err := json.Marshal(req.Payload)
	if err != nil {
		respondWithError(c, newError("VALIDATION_ERROR", "payload の解析に失敗しました。", err))
		return
	}

	job := &Job{
		ID:          uuid.NewString(),
		CustomerID:  identity.CustomerID,
		Type:        format,
		Payload:     payloadJSON,
		PayloadHash: hash,
		Priority:    PriorityForTier(identity.Tier),
		Status:      StatusQueued,
	}
	if err := h.store.Create(c.Request.Context(), job); err != nil {
		respondWithError(c, newError("INTERNAL_ERROR", "ジョブの作成に失敗しました。", err))
		return
	}
	if err := h.enqueuer.EnqueueExport(c.Request.Context(), job.ID, job.CustomerID, identity.Tier); err != nil {
		// キュー投入失敗をQUEUEDのまま残さない
		if markErr := h.store.MarkFailed(c.Request.Context(), job.ID, "INTERNAL_ERROR", "ジョブの投入に失敗しました。"); markErr != nil {
			h.logger.Printf("failed to mark unenqueued job %s failed: %v", job.ID, markErr)
		}
		respondWithError(c, newError("INTERNAL_ERROR", "ジョブの投入に失敗しました。", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":     job.ID,
		"status": job.Status,
	})
}

// GetExport はジョブの現在の状態を返します。
func (h *Handler) GetExport(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		respondWithError(c, newError("UNAUTHORIZED", "認証情報が見つかりません。", nil))
		return
	}
	job, err := h.store.Get(c.Request.Context(), c.Param("id"), identity.CustomerID)
	if err != nil {
		respondWithError(c, jobLoadError(err))
		return
	}
	c.JSON(http.StatusOK, h.jobResponse(job))
}

// ListExports はジョブ一覧をページングして返します。?status= で絞り込みできます。
func (h *Handler) ListExports(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		respondWithError(c, newError("UNAUTHORIZED", "認証情報が見つかりません。", nil))
		return
	}

	var status Status
	if raw := c.Query("status"); raw != "" {
		normalized := Status(strings.ToUpper(raw))
		switch normalized {
		case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
			status = normalized
		default:
			respondWithError(c, newError("VALIDATION_ERROR", "status の値が不正です。", nil))
			return
		}
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	jobs, pagination, err := h.store.List(c.Request.Context(), identity.CustomerID, status, page, pageSize)
	if err != nil {
		respondWithError(c, newError("INTERNAL_ERROR", "ジョブ一覧の取得に失敗しました。", err))
		return
	}

	items := make([]gin.H, 0, len(jobs))
	for i := range jobs {
		items = append(items, h.jobResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       items,
		"pagination": pagination,
	})
}

// CancelExport はジョブのキャンセルを要求します。
// 終了済みジョブに対しては現状を返すだけで副作用はありません。
func (h *Handler) CancelExport(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		respondWithError(c, newError("UNAUTHORIZED", "認証情報が見つかりません。", nil))
		return
	}
	job, err := h.store.RequestCancel(c.Request.Context(), c.Param("id"), identity.CustomerID)
	if err != nil {
		respondWithError(c, jobLoadError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":              job.ID,
		"status":          job.Status,
		"cancelRequested": job.CancelRequested,
	})
}

// GetDownloadURL は成果物への署名付きURLを発行します。
func (h *Handler) GetDownloadURL(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		respondWithError(c, newError("UNAUTHORIZED", "認証情報が見つかりません。", nil))
		return
	}
	job, err := h.store.Get(c.Request.Context(), c.Param("id"), identity.CustomerID)
	if err != nil {
		respondWithError(c, jobLoadError(err))
		return
	}
	if job.Status != StatusCompleted {
		respondWithError(c, newError("NOT_COMPLETED", "ジョブはまだ完了していません。", nil))
		return
	}
	now := h.now().UTC()
	if job.PurgedAt != nil || (job.ExpiresAt != nil && !now.Before(*job.ExpiresAt)) {
		c.JSON(http.StatusGone, gin.H{
			"code":      "ARTIFACT_EXPIRED",
			"message":   "成果物は保持期限を過ぎたため削除されています。",
			"expiresAt": job.ExpiresAt,
		})
		return
	}

	signature, expiresUnix := h.signer.Sign(job.ArtifactKey, h.cfg.DownloadTTL, now)
	downloadURL := fmt.Sprintf("%s/api/exports/%s/file?sig=%s&exp=%d",
		strings.TrimRight(h.cfg.PublicBaseURL, "/"), job.ID, url.QueryEscape(signature), expiresUnix)

	c.JSON(http.StatusOK, gin.H{
		"downloadUrl": downloadURL,
		"expiresAt":   time.Unix(expiresUnix, 0).UTC(),
	})
}

// ServeFile は署名付きURL経由で成果物を配信します。
func (h *Handler) ServeFile(c *gin.Context) {
	job, err := h.store.GetAny(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWithError(c, jobLoadError(err))
		return
	}
	if job.Status != StatusCompleted || job.PurgedAt != nil || job.ArtifactKey == "" {
		respondWithError(c, newError("JOB_NOT_FOUND", "成果物が見つかりません。", nil))
		return
	}

	expiresUnix, err := strconv.ParseInt(c.Query("exp"), 10, 64)
	if err != nil {
		respondWithError(c, newError("INVALID_SIGNATURE", "ダウンロードURLが不正です。", err))
		return
	}
	if err := h.signer.Verify(job.ArtifactKey, c.Query("sig"), expiresUnix, h.now().UTC()); err != nil {
		respondWithError(c, newError("INVALID_SIGNATURE", "ダウンロードURLが無効か、有効期限が切れています。", err))
		return
	}

	reader, size, err := h.files.Open(c.Request.Context(), job.ArtifactKey)
	if err != nil {
		respondWithError(c, newError("STORAGE_FAILED", "成果物の読み出しに失敗しました。", err))
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.Type.Filename()))
	c.Header("Content-Type", job.Type.ContentType())
	c.Header("Content-Length", strconv.FormatInt(size, 10))
	if _, err := io.Copy(c.Writer, reader); err != nil {
		h.logger.Printf("failed to stream artifact for job %s: %v", job.ID, err)
	}
}

// IngestRows はエクスポートの素材になるデータセット行を取り込みます。
func (h *Handler) IngestRows(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		respondWithError(c, newError("UNAUTHORIZED", "認証情報が見つかりません。", nil))
		return
	}
	dataset := c.Param("dataset")

	var rows []map[string]any
	if err := c.ShouldBindJSON(&rows); err != nil {
		respondWithError(c, newError("VALIDATION_ERROR", "オブジェクトの配列を指定してください。", err))
		return
	}
	if len(rows) == 0 {
		respondWithError(c, newError("VALIDATION_ERROR", "行が1件もありません。", nil))
		return
	}

	records := make([]DatasetRow, 0, len(rows))
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			respondWithError(c, newError("VALIDATION_ERROR", "行の解析に失敗しました。", err))
			return
		}
		records = append(records, DatasetRow{
			CustomerID: identity.CustomerID,
			Dataset:    dataset,
			Data:       data,
		})
	}
	if err := h.store.InsertDatasetRows(c.Request.Context(), records); err != nil {
		respondWithError(c, newError("INTERNAL_ERROR", "行の保存に失敗しました。", err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"dataset":  dataset,
		"inserted": len(records),
	})
}

// GetUsageSummary は現在の課金期間の使用量サマリーを返します。
func (h *Handler) GetUsageSummary(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		respondWithError(c, newError("UNAUTHORIZED", "認証情報が見つかりません。", nil))
		return
	}
	summary, err := h.usage.GetSummary(c.Request.Context(), identity.CustomerID)
	if err != nil {
		respondWithError(c, newError("INTERNAL_ERROR", "使用量サマリーの取得に失敗しました。", err))
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) jobResponse(job *Job) gin.H {
	body := gin.H{
		"id":        job.ID,
		"type":      job.Type,
		"status":    job.Status,
		"progress":  job.Progress,
		"createdAt": job.CreatedAt,
	}
	switch job.Status {
	case StatusCompleted:
		// downloadUrl は署名付きURLの発行エンドポイント。実URLはそこで都度発行する
		body["result"] = gin.H{
			"downloadUrl": fmt.Sprintf("%s/api/exports/%s/download", strings.TrimRight(h.cfg.PublicBaseURL, "/"), job.ID),
			"key":         job.ArtifactKey,
			"format":      job.Type,
			"recordCount": job.RecordCount,
			"fileSize":    job.FileSize,
			"completedAt": job.CompletedAt,
			"expiresAt":   job.ExpiresAt,
		}
	case StatusFailed:
		body["error"] = gin.H{
			"code":    job.ErrorCode,
			"message": job.ErrorMessage,
		}
	}
	return body
}

func jobLoadError(err error) *Error {
	if errors.Is(err, ErrJobNotFound) {
		return newError("JOB_NOT_FOUND", "ジョブが見つかりません。", err)
	}
	return newError("INTERNAL_ERROR", "ジョブの取得に失敗しました。", err)
}

// respondWithError はエラーコードからHTTPステータスを決めて返信します。
func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = newError("INTERNAL_ERROR", "内部エラーが発生しました。", err)
	}
	c.JSON(statusForCode(apiErr.Code), gin.H{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	})
}

func statusForCode(code string) int {
	switch code {
	case "VALIDATION_ERROR", CodeInvalidPayload:
		return http.StatusBadRequest
	case "UNAUTHORIZED":
		return http.StatusUnauthorized
	case "USAGE_LIMIT_REACHED":
		return http.StatusPaymentRequired
	case "INVALID_SIGNATURE":
		return http.StatusForbidden
	case CodeJobNotFound:
		return http.StatusNotFound
	case "NOT_COMPLETED":
		return http.StatusConflict
	case "ARTIFACT_EXPIRED":
		return http.StatusGone
	case "DUPLICATE_BURST":
		return http.StatusTooManyRequests
	case "ADMISSION_UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
