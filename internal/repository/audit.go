package repository

import (
	"context"

	"mirsal/internal/model"

	"gorm.io/gorm"
)

type AuditInterface interface {
	Create(ctx context.Context, audit *model.SyncAudit) error
	List(ctx context.Context, offset, limit int) ([]model.SyncAudit, int64, error)
	PingContext(ctx context.Context) error
}

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, audit *model.SyncAudit) error {
	if err := r.db.WithContext(ctx).Create(audit).Error; err != nil {
		return storageErr("create audit", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, offset, limit int) ([]model.SyncAudit, int64, error) {
	var audits []model.SyncAudit
	var total int64

	db := r.db.WithContext(ctx).Model(&model.SyncAudit{})
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, storageErr("count audits", err)
	}

	if err := db.Offset(offset).Limit(limit).Order("id DESC").Find(&audits).Error; err != nil {
		return nil, 0, storageErr("list audits", err)
	}

	return audits, total, nil
}

func (r *AuditRepository) PingContext(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
