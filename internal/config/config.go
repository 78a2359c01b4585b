// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// データストア設定
	DatabaseURL string // リレーショナルDBのDSN（postgres:// または sqliteファイルパス）
	RedisURL    string // Redis接続URL（ブローカーおよびカウンターストア共用）

	// アーティファクト設定
	StorageDir            string // 成果物の保存ディレクトリ
	DownloadSignSecret    string // ダウンロードURL署名用の秘密鍵
	DownloadURLTTLMinutes int    // 署名付きダウンロードURLの有効期限（分）
	DownloadPublicBaseURL string // ダウンロードURLのベース（空なら相対パス）

	// 入場制御（サーキットブレーカー）
	BreakerThreshold     int  // ウィンドウ内で許可する同一リクエスト数
	BreakerWindowSeconds int  // スライディングウィンドウの長さ（秒）
	BreakerFailOpen      bool // カウンターストア障害時に許可するか（false なら遮断）

	// ワーカー/変換設定
	WorkerConcurrency    int // asynqワーカーの同時実行数
	ExportBatchSize      int // レコードソースから一度に取得する行数
	ExportTimeoutMinutes int // エクスポートタスク1件の実行時間上限（分）

	// 保持期間設定（プラン別、日数）
	RetentionFreeDays  int
	RetentionProDays   int
	RetentionScaleDays int

	// 監視設定
	MonitorIntervalMinutes   int   // モニタータスクの起動間隔（分）
	AlertFailedJobsThreshold int64 // 間隔内の失敗ジョブ数の警告しきい値
	AlertQueueDepthThreshold int64 // キュー滞留数の警告しきい値
	PurgeIntervalMinutes     int   // 期限切れアーティファクト削除の間隔（分）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// データストア設定
		DatabaseURL: getEnv("DATABASE_URL", "export-forge.db"),
		RedisURL:    getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),

		// アーティファクト設定
		StorageDir:            getEnv("STORAGE_DIR", filepath.Join(os.TempDir(), "export-forge")),
		DownloadSignSecret:    getEnv("DOWNLOAD_SIGN_SECRET", ""),
		DownloadURLTTLMinutes: getEnvAsInt("DOWNLOAD_URL_TTL_MINUTES", 15),
		DownloadPublicBaseURL: getEnv("DOWNLOAD_PUBLIC_BASE_URL", ""),

		// 入場制御
		BreakerThreshold:     getEnvAsInt("BREAKER_THRESHOLD", 10),
		BreakerWindowSeconds: getEnvAsInt("BREAKER_WINDOW_SECONDS", 60),
		BreakerFailOpen:      getEnvAsBool("BREAKER_FAIL_OPEN", true),

		// ワーカー/変換設定
		WorkerConcurrency:    getEnvAsInt("WORKER_CONCURRENCY", 4),
		ExportBatchSize:      getEnvAsInt("EXPORT_BATCH_SIZE", 500),
		ExportTimeoutMinutes: getEnvAsInt("EXPORT_TIMEOUT_MINUTES", 30),

		// 保持期間設定
		RetentionFreeDays:  getEnvAsInt("RETENTION_FREE_DAYS", 7),
		RetentionProDays:   getEnvAsInt("RETENTION_PRO_DAYS", 30),
		RetentionScaleDays: getEnvAsInt("RETENTION_SCALE_DAYS", 90),

		// 監視設定
		MonitorIntervalMinutes:   getEnvAsInt("MONITOR_INTERVAL_MINUTES", 5),
		AlertFailedJobsThreshold: getEnvAsInt64("ALERT_FAILED_JOBS_THRESHOLD", 10),
		AlertQueueDepthThreshold: getEnvAsInt64("ALERT_QUEUE_DEPTH_THRESHOLD", 1000),
		PurgeIntervalMinutes:     getEnvAsInt("PURGE_INTERVAL_MINUTES", 10),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では署名鍵などは任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required in release mode")
		}
		if c.DownloadSignSecret == "" {
			return fmt.Errorf("DOWNLOAD_SIGN_SECRET is required in release mode")
		}
	}
	if c.BreakerThreshold <= 0 {
		return fmt.Errorf("BREAKER_THRESHOLD must be positive")
	}
	if c.BreakerWindowSeconds <= 0 {
		return fmt.Errorf("BREAKER_WINDOW_SECONDS must be positive")
	}
	if c.ExportBatchSize <= 0 {
		return fmt.Errorf("EXPORT_BATCH_SIZE must be positive")
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
