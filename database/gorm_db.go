package database

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/facesentry/models"
)

// Supported DATABASE_DRIVER values
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		return sqlite.Open(dsn), nil
	case DriverPostgres, "postgresql":
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("%w: unsupported database driver %q", models.ErrInvalidConfig, driver)
	}
}

// InitGormDB initializes and returns a GORM database instance
func InitGormDB(driver, dataSourceName string, log *zap.Logger) (*gorm.DB, error) {
	dial, err := dialector(driver, dataSourceName)
	if err != nil {
		return nil, err
	}

	gormLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dial, &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if dial.Name() == DriverSQLite {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			log.Warn("failed to set WAL mode", zap.Error(err))
		}
	}

	log.Info("database initialized", zap.String("driver", dial.Name()))
	return db, nil
}

// AutoMigrateModels migrates every table the pipeline persists
func AutoMigrateModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Camera{},
		&models.DetectionEvent{},
		&models.Alert{},
		&models.WatchlistEntry{},
		&models.FaceEncoding{},
	)
	if err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}
	return nil
}
