package database

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourusername/export-forge/internal/audit"
	"github.com/yourusername/export-forge/internal/billing"
	"github.com/yourusername/export-forge/internal/export"
)

// Open はDSNに応じたドライバーでデータベースへ接続します。
// postgres:// で始まればPostgreSQL、それ以外はSQLiteファイルとして扱います。
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Migrate はすべてのモデルのスキーマを適用します。
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&billing.Customer{},
		&billing.Subscription{},
		&billing.UsageRecord{},
		&billing.UsageAlert{},
		&export.Job{},
		&export.DatasetRow{},
		&audit.Entry{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}
