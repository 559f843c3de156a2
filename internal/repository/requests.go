package repository

import (
	"context"
	"errors"
	"fmt"

	"mirsal/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrStorageUnavailable wraps any driver-level failure. Callers must be
	// told an enqueue failed; the store never silently drops a write.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("request not found")
)

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

type RequestInterface interface {
	Put(ctx context.Context, req *model.QueuedRequest) error
	Get(ctx context.Context, id string) (*model.QueuedRequest, error)
	ListByStatus(ctx context.Context, status model.RequestStatus) ([]model.QueuedRequest, error)
	ListByStatuses(ctx context.Context, statuses ...model.RequestStatus) ([]model.QueuedRequest, error)
	ListByURL(ctx context.Context, url string) ([]model.QueuedRequest, error)
	CountByStatus(ctx context.Context, status model.RequestStatus) (int64, error)
	CountByStatuses(ctx context.Context, statuses ...model.RequestStatus) (int64, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteByStatus(ctx context.Context, status model.RequestStatus) (int64, error)
}

type RequestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Put is insert-or-replace by id: calling it twice with the same id leaves
// exactly one record carrying the latest payload.
func (r *RequestRepository) Put(ctx context.Context, req *model.QueuedRequest) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(req).Error
	if err != nil {
		return storageErr("put", err)
	}
	return nil
}

func (r *RequestRepository) Get(ctx context.Context, id string) (*model.QueuedRequest, error) {
	var req model.QueuedRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get", err)
	}
	return &req, nil
}

// ListByStatus returns all records in the given status. The store gives no
// ordering guarantee; drain ordering is the queue core's responsibility.
func (r *RequestRepository) ListByStatus(ctx context.Context, status model.RequestStatus) ([]model.QueuedRequest, error) {
	return r.ListByStatuses(ctx, status)
}

func (r *RequestRepository) ListByStatuses(ctx context.Context, statuses ...model.RequestStatus) ([]model.QueuedRequest, error) {
	var reqs []model.QueuedRequest
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Find(&reqs).Error
	if err != nil {
		return nil, storageErr("list by status", err)
	}
	return reqs, nil
}

func (r *RequestRepository) ListByURL(ctx context.Context, url string) ([]model.QueuedRequest, error) {
	var reqs []model.QueuedRequest
	err := r.db.WithContext(ctx).Where("url = ?", url).Find(&reqs).Error
	if err != nil {
		return nil, storageErr("list by url", err)
	}
	return reqs, nil
}

func (r *RequestRepository) CountByStatus(ctx context.Context, status model.RequestStatus) (int64, error) {
	return r.CountByStatuses(ctx, status)
}

func (r *RequestRepository) CountByStatuses(ctx context.Context, statuses ...model.RequestStatus) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.QueuedRequest{}).
		Where("status IN ?", statuses).
		Count(&n).Error
	if err != nil {
		return 0, storageErr("count by status", err)
	}
	return n, nil
}

// Delete removes one record and reports whether it existed. Deleting an
// unknown id is a no-op success with existed=false.
func (r *RequestRepository) Delete(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.QueuedRequest{})
	if res.Error != nil {
		return false, storageErr("delete", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *RequestRepository) DeleteByStatus(ctx context.Context, status model.RequestStatus) (int64, error) {
	res := r.db.WithContext(ctx).Where("status = ?", status).Delete(&model.QueuedRequest{})
	if res.Error != nil {
		return 0, storageErr("delete by status", res.Error)
	}
	return res.RowsAffected, nil
}
