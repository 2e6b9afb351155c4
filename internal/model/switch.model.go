package model

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

const MaxRecipients = 3

// Recipient is a contact the release payload is sent to. The core only
// reads recipients at delivery time, it never owns or mutates them.
type Recipient struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (r Recipient) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return errors.New("recipient email is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return errors.New("recipient email is invalid: " + r.Email)
	}
	return nil
}

// Switch is one user's dead-man's-switch. Exactly one per user.
//
// Epoch bookkeeping: DeliveredAt is never cleared once set. A delivery
// stamps DeliveredEpoch with the current Epoch; an explicit reset after
// delivery increments Epoch, so the row represents a fresh switch while
// the delivery stamp stays for audit.
type Switch struct {
	ID             int64       `json:"id"`
	UserID         string      `json:"user_id"`
	IsEnabled      bool        `json:"is_enabled"`
	FrequencyDays  int         `json:"frequency_days"`
	LastCheckIn    *time.Time  `json:"last_check_in"` // nil until first check-in
	Recipients     []Recipient `json:"recipients"`
	Delivering     bool        `json:"-"`
	DeliveredAt    *time.Time  `json:"delivered_at"`
	Epoch          int         `json:"epoch"`
	DeliveredEpoch *int        `json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Delivered reports whether the switch is terminal in its current
// epoch. A delivery stamp from a previous epoch does not count.
func (s *Switch) Delivered() bool {
	return s.DeliveredEpoch != nil && *s.DeliveredEpoch == s.Epoch
}

// SwitchUpsertRequest carries a settings write from the UI collaborator.
type SwitchUpsertRequest struct {
	UserID        string      `json:"user_id"`
	IsEnabled     bool        `json:"is_enabled"`
	FrequencyDays int         `json:"frequency_days"`
	Recipients    []Recipient `json:"recipients"`
}

func (p SwitchUpsertRequest) Validate() error {
	if p.UserID == "" {
		return errors.New("user_id is required")
	}
	if p.FrequencyDays <= 0 {
		return errors.New("frequency_days must be positive")
	}
	if len(p.Recipients) > MaxRecipients {
		return errors.New("at most 3 recipients are allowed")
	}
	seen := make(map[string]struct{}, len(p.Recipients))
	for _, r := range p.Recipients {
		if err := r.Validate(); err != nil {
			return err
		}
		key := strings.ToLower(strings.TrimSpace(r.Email))
		if _, dup := seen[key]; dup {
			return errors.New("duplicate recipient email: " + r.Email)
		}
		seen[key] = struct{}{}
	}
	if p.IsEnabled && len(p.Recipients) == 0 {
		return ErrNotEnabled
	}
	return nil
}
