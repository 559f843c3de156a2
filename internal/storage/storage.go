package storage

import (
	"fmt"

	"mirsal/internal/config"
	"mirsal/internal/model"
	"mirsal/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects the durable store and migrates the schema. Opening is
// idempotent: calling it again against the same DSN is safe.
func Open(cfg config.StorageConfig) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dial = mysql.Open(cfg.DSN)
	case "", "sqlite":
		dial = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", repository.ErrStorageUnavailable, cfg.Driver)
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", repository.ErrStorageUnavailable, err)
	}

	if err := db.AutoMigrate(&model.QueuedRequest{}, &model.SyncAudit{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", repository.ErrStorageUnavailable, err)
	}

	return db, nil
}
