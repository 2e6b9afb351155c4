package repository

import (
	"time"

	"github.com/finvault/lastwish-gateway/internal/model"
)

type DeliveryEntity struct {
	ID             int64      `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	SwitchID       int64      `db:"switch_id"       gorm:"column:switch_id;not null;index"`
	UserID         string     `db:"user_id"         gorm:"column:user_id;not null;index"`
	Epoch          int        `db:"epoch"           gorm:"column:epoch;not null;default:0"`
	RecipientEmail string     `db:"recipient_email" gorm:"column:recipient_email;not null"`
	Status         string     `db:"status"          gorm:"column:status;not null;index"`
	ErrorMessage   string     `db:"error_message"   gorm:"column:error_message"`
	SentAt         *time.Time `db:"sent_at"         gorm:"column:sent_at"`
	CreatedAt      time.Time  `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (DeliveryEntity) TableName() string {
	return "last_wish_deliveries"
}

func toDeliveryEntity(m *model.Delivery) *DeliveryEntity {
	if m == nil {
		return nil
	}
	return &DeliveryEntity{
		ID:             m.ID,
		SwitchID:       m.SwitchID,
		UserID:         m.UserID,
		Epoch:          m.Epoch,
		RecipientEmail: m.RecipientEmail,
		Status:         string(m.Status),
		ErrorMessage:   m.ErrorMessage,
		SentAt:         m.SentAt,
		CreatedAt:      m.CreatedAt,
	}
}

func toDeliveryModel(e *DeliveryEntity) *model.Delivery {
	if e == nil {
		return nil
	}
	return &model.Delivery{
		ID:             e.ID,
		SwitchID:       e.SwitchID,
		UserID:         e.UserID,
		Epoch:          e.Epoch,
		RecipientEmail: e.RecipientEmail,
		Status:         model.DeliveryStatus(e.Status),
		ErrorMessage:   e.ErrorMessage,
		SentAt:         e.SentAt,
		CreatedAt:      e.CreatedAt,
	}
}

func toDeliveryModels(entities []*DeliveryEntity) []*model.Delivery {
	if entities == nil {
		return nil
	}
	models := make([]*model.Delivery, len(entities))
	for i, e := range entities {
		models[i] = toDeliveryModel(e)
	}
	return models
}
