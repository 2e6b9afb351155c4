package model

import "time"

type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Delivery is one send attempt to one recipient, kept for audit.
type Delivery struct {
	ID             int64          `json:"id"`
	SwitchID       int64          `json:"switch_id"`
	UserID         string         `json:"user_id"`
	Epoch          int            `json:"epoch"`
	RecipientEmail string         `json:"recipient_email"`
	Status         DeliveryStatus `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	SentAt         *time.Time     `json:"sent_at"` // nullable, set on success
	CreatedAt      time.Time      `json:"created_at"`
}

// DeliveryFilter controls delivery log queries.
type DeliveryFilter struct {
	UserID *string
	Status *DeliveryStatus
	Limit  int // default 50
	Offset int
	Desc   bool
}

// DeliveryJob is the payload published to the delivery queue when the
// scheduler claims an overdue switch.
type DeliveryJob struct {
	SwitchID  int64     `json:"switch_id"`
	UserID    string    `json:"user_id"`
	Epoch     int       `json:"epoch"`
	ClaimedAt time.Time `json:"claimed_at"`
}
