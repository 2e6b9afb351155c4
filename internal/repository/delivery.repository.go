package repository

import (
	"context"

	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/finvault/lastwish-gateway/pkg/pg"
)

type DeliveryRepository struct {
	*pg.DB
}

func NewDeliveryRepository(db *pg.DB) *DeliveryRepository {
	return &DeliveryRepository{
		db,
	}
}

func (r *DeliveryRepository) Create(ctx context.Context, d *model.Delivery) (*model.Delivery, error) {
	entity := toDeliveryEntity(d)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toDeliveryModel(entity), nil
}

func (r *DeliveryRepository) List(ctx context.Context, f model.DeliveryFilter) ([]*model.Delivery, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&DeliveryEntity{})

	if f.UserID != nil && *f.UserID != "" {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*DeliveryEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toDeliveryModels(entities), total, nil
}
