package database

import (
	"fmt"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"inbound-backend/internal/logging"
	"inbound-backend/internal/models"
)

// DB is the global database instance
var DB *gorm.DB

// GetEnvDefault gets an environment variable or returns a default value
func GetEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// InitDatabase opens the Postgres connection described by DB_* variables.
// DATABASE_URL wins over the individual settings when present.
func InitDatabase() error {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := GetEnvDefault("DB_HOST", "localhost")
		port := GetEnvDefault("DB_PORT", "5432")
		user := GetEnvDefault("DB_USER", "inbound")
		password := os.Getenv("DB_PASSWORD")
		dbname := GetEnvDefault("DB_NAME", "inbound")

		sslMode := GetEnvDefault("DB_SSLMODE", "require")
		if os.Getenv("DB_SSLMODE") == "" && (os.Getenv("ENVIRONMENT") == "development" || os.Getenv("ENVIRONMENT") == "dev") {
			sslMode = "disable"
			logging.Log.Warn("⚠️  Database SSL disabled for development environment")
		}

		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			host, user, password, dbname, port, sslMode)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(GetEnvInt("DB_MAX_OPEN_CONNS", 25))
	sqlDB.SetMaxIdleConns(GetEnvInt("DB_MAX_IDLE_CONNS", 5))
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	DB = db
	logging.Log.Info("✅ Database connected successfully")
	return nil
}

// OpenSQLite opens a sqlite database, used by tests and local runs.
// Pass "file::memory:" for a private in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps an in-memory database alive and shared.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// RunMigrations auto-migrates every model
func RunMigrations(db *gorm.DB) error {
	if db == nil {
		logging.Log.Warn("⚠️  Skipping migrations: no database connection")
		return nil
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	logging.Log.Info("✅ Database migrations completed")
	return nil
}

// GetEnvInt gets an integer environment variable or returns a default value
func GetEnvInt(key string, defaultValue int) int {
	var v int
	if raw := os.Getenv(key); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &v); err == nil {
			return v
		}
	}
	return defaultValue
}
