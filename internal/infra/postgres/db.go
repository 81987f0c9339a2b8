// Package postgres implements the stores on PostgreSQL through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
)

// activeDraftIndex enforces one active draft per (owner, doc type).
const activeDraftIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_drafts_one_active
	ON drafts (owner_id, doc_type) WHERE status = 'active'`

// Open connects to the database and migrates the schema.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := Migrate(db.WithContext(ctx)); err != nil {
		return nil, err
	}

	logger.Info("postgres connected and migrated")
	return db, nil
}

// Migrate creates or updates every table used by the bot.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&companyRow{}, &userRow{}, &clientRow{}, &quoteRow{}, &invoiceRow{},
		&conversationRow{}, &draftRow{},
	); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	if err := db.Exec(activeDraftIndex).Error; err != nil {
		return fmt.Errorf("creating active draft index: %w", err)
	}
	return nil
}

// Ping checks connectivity, used by the readiness probe.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// notFound maps gorm.ErrRecordNotFound to the domain error.
func notFound(err error, resource, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return err
}
