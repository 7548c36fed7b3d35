// internal/database/connection.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/javajoker/keyshop-backend/internal/config"
	"github.com/javajoker/keyshop-backend/internal/models"
)

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return Open(cfg.DSN(), cfg)
}

// Open connects with an explicit DSN; tests use it with TEST_DATABASE_DSN.
func Open(dsn string, cfg config.DatabaseConfig) (*gorm.DB, error) {
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" || cfg.LogLevel == "" {
		gormConfig = &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		}
	} else {
		gormConfig = &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Info),
			TranslateError: true,
		}
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)
	}

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Database connection established successfully")
	return db, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Error("Error getting underlying sql.DB")
		return
	}

	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Error("Error closing database connection")
	} else {
		logrus.Info("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	logrus.Info("Running database migrations...")

	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error; err != nil {
		return fmt.Errorf("failed to create pgcrypto extension: %w", err)
	}

	// Run auto-migrations
	err := db.AutoMigrate(
		&models.Product{},
		&models.Partner{},
		&models.PromoCode{},
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
		&models.PartnerEarning{},
		&models.LicenseKey{},
		&models.LicenseKeyAuditLog{},
		&models.ActivationRecord{},
		&models.AuditLog{},
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	// Integrity indexes must exist; the rest are best effort.
	required := []string{
		// One live key per order and pool
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_license_keys_order_pool_used ON license_keys(order_id, product_key) WHERE status = 'used'",
		// A provider reference belongs to exactly one payment
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_payments_provider_ref ON payments(provider_ref) WHERE provider_ref <> ''",
	}
	for _, index := range required {
		if err := db.Exec(index).Error; err != nil {
			return fmt.Errorf("index %q: %w", index, err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_orders_ip_created ON orders(ip, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders(status, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_payments_order_created ON payments(order_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_license_key_audit_created ON license_key_audit_logs(created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs(entity_type, entity_id)",
		"CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at DESC)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			logrus.WithError(err).WithField("index", index).Warn("Failed to create index")
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// SeedInitialData inserts the default catalogue when it is empty.
func SeedInitialData(db *gorm.DB) error {
	logrus.Info("Seeding initial data...")

	defaultProducts := []models.Product{
		{Slug: "chatgpt-plus-1m", Title: "ChatGPT Plus, 1 month", Price: 1990, Currency: "RUB", IsActive: true},
		{Slug: "chatgpt-go-1m", Title: "ChatGPT Go, 1 month", Price: 990, Currency: "RUB", IsActive: true},
	}

	for _, product := range defaultProducts {
		var count int64
		db.Model(&models.Product{}).Where("slug = ?", product.Slug).Count(&count)

		if count == 0 {
			p := product
			if err := db.Create(&p).Error; err != nil {
				logrus.WithError(err).WithField("slug", p.Slug).Warn("Failed to seed product")
			}
		}
	}

	logrus.Info("Initial data seeding completed")
	return nil
}

// Transaction helper
func WithTransaction(ctx context.Context, db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
