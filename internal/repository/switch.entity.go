package repository

import (
	"encoding/json"
	"time"

	"github.com/finvault/lastwish-gateway/internal/model"
)

type SwitchEntity struct {
	ID             int64      `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	UserID         string     `db:"user_id"         gorm:"column:user_id;not null;uniqueIndex"`
	IsEnabled      bool       `db:"is_enabled"      gorm:"column:is_enabled;not null;default:false"`
	FrequencyDays  int        `db:"frequency_days"  gorm:"column:frequency_days;not null"`
	LastCheckIn    *time.Time `db:"last_check_in"   gorm:"column:last_check_in"`
	Recipients     string     `db:"recipients"      gorm:"column:recipients;not null;default:'[]'"`
	Delivering     bool       `db:"delivering"      gorm:"column:delivering;not null;default:false"`
	DeliveredAt    *time.Time `db:"delivered_at"    gorm:"column:delivered_at"`
	Epoch          int        `db:"epoch"           gorm:"column:epoch;not null;default:0"`
	DeliveredEpoch *int       `db:"delivered_epoch" gorm:"column:delivered_epoch"`
	CreatedAt      time.Time  `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `db:"updated_at"      gorm:"column:updated_at;autoUpdateTime"`
}

func (SwitchEntity) TableName() string {
	return "last_wish_settings"
}

func toSwitchEntity(m *model.Switch) *SwitchEntity {
	if m == nil {
		return nil
	}
	return &SwitchEntity{
		ID:             m.ID,
		UserID:         m.UserID,
		IsEnabled:      m.IsEnabled,
		FrequencyDays:  m.FrequencyDays,
		LastCheckIn:    m.LastCheckIn,
		Recipients:     marshalRecipients(m.Recipients),
		Delivering:     m.Delivering,
		DeliveredAt:    m.DeliveredAt,
		Epoch:          m.Epoch,
		DeliveredEpoch: m.DeliveredEpoch,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toSwitchModel(e *SwitchEntity) *model.Switch {
	if e == nil {
		return nil
	}
	return &model.Switch{
		ID:             e.ID,
		UserID:         e.UserID,
		IsEnabled:      e.IsEnabled,
		FrequencyDays:  e.FrequencyDays,
		LastCheckIn:    e.LastCheckIn,
		Recipients:     unmarshalRecipients(e.Recipients),
		Delivering:     e.Delivering,
		DeliveredAt:    e.DeliveredAt,
		Epoch:          e.Epoch,
		DeliveredEpoch: e.DeliveredEpoch,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func toSwitchModels(entities []*SwitchEntity) []*model.Switch {
	if entities == nil {
		return nil
	}
	models := make([]*model.Switch, len(entities))
	for i, e := range entities {
		models[i] = toSwitchModel(e)
	}
	return models
}

func marshalRecipients(rs []model.Recipient) string {
	if len(rs) == 0 {
		return "[]"
	}
	b, err := json.Marshal(rs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalRecipients(s string) []model.Recipient {
	if s == "" {
		return nil
	}
	var rs []model.Recipient
	if err := json.Unmarshal([]byte(s), &rs); err != nil {
		return nil
	}
	return rs
}
