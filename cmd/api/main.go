// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/export-forge/internal/auth"
	"github.com/yourusername/export-forge/internal/billing"
	"github.com/yourusername/export-forge/internal/config"
	"github.com/yourusername/export-forge/internal/database"
	"github.com/yourusername/export-forge/internal/export"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	logger := log.Default()

	// データベース接続とスキーマ適用
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// ジョブ実行系（ストレージ・課金・ワーカー・定期タスク）の配線
	app, err := setupJobs(cfg, db, logger)
	if err != nil {
		log.Fatalf("Failed to set up job infrastructure: %v", err)
	}
	if err := app.manager.StartWorkers(); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
	}
	router.Use(cors.New(corsConfig))

	setupRoutes(router, app)

	// サーバーの起動
	addr := ":" + cfg.Port
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// SIGINT/SIGTERM でワーカーとサーバーを順に止める
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.manager.Shutdown(ctx); err != nil {
		log.Printf("Worker shutdown error: %v", err)
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "export-forge-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, app *application) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	authManager := auth.NewManager(billing.NewKeyAuthenticator(app.db), app.logger)
	handler := export.NewHandler(
		app.store,
		app.files,
		app.signer,
		app.breaker,
		app.manager,
		app.billing,
		export.HandlerConfig{
			PublicBaseURL: app.cfg.DownloadPublicBaseURL,
			DownloadTTL:   time.Duration(app.cfg.DownloadURLTTLMinutes) * time.Minute,
		},
		app.logger,
	)

	api := router.Group("/api")
	handler.RegisterRoutes(api, authManager.RequireAPIKey())
}
