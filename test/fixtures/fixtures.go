package fixtures

import (
	"time"

	"github.com/finvault/lastwish-gateway/internal/model"
)

var (
	TestRecipientAlice = model.Recipient{
		Name:  "Alice",
		Email: "alice@example.com",
	}

	TestRecipientBob = model.Recipient{
		Name:  "Bob",
		Email: "bob@example.com",
	}
)

func NewTestSwitch(userID string, frequencyDays int, lastCheckIn *time.Time) *model.Switch {
	return &model.Switch{
		ID:            0,
		UserID:        userID,
		IsEnabled:     true,
		FrequencyDays: frequencyDays,
		LastCheckIn:   lastCheckIn,
		Recipients:    []model.Recipient{TestRecipientAlice, TestRecipientBob},
		CreatedAt:     time.Now(),
	}
}

func NewTestUpsertRequest(userID string, frequencyDays int) model.SwitchUpsertRequest {
	return model.SwitchUpsertRequest{
		UserID:        userID,
		IsEnabled:     true,
		FrequencyDays: frequencyDays,
		Recipients:    []model.Recipient{TestRecipientAlice, TestRecipientBob},
	}
}

func NewTestDelivery(switchID int64, userID string, epoch int, email, status string) *model.Delivery {
	d := &model.Delivery{
		ID:             0,
		SwitchID:       switchID,
		UserID:         userID,
		Epoch:          epoch,
		RecipientEmail: email,
		Status:         model.DeliveryStatus(status),
	}
	if d.Status == model.DeliveryStatusSent {
		now := time.Now()
		d.SentAt = &now
	}
	return d
}

func NewTestDeliveryJob(switchID int64, userID string, epoch int) *model.DeliveryJob {
	return &model.DeliveryJob{
		SwitchID:  switchID,
		UserID:    userID,
		Epoch:     epoch,
		ClaimedAt: time.Now().UTC(),
	}
}

var (
	ValidFrequencies = []int{1, 7, 30, 90, 365}

	InvalidFrequencies = []int{0, -1, -30}

	ValidEmails = []string{
		"alice@example.com",
		"bob+wish@example.org",
		"c.oleary@mail.co.uk",
	}

	InvalidEmails = []string{
		"",
		"no-at-sign",
		"@missinglocal.com",
		"trailing@",
	}
)

// SwitchWithID builds an enabled switch with a recent check-in.
func SwitchWithID(id int64) *model.Switch {
	now := time.Now().UTC()
	sw := NewTestSwitch("user-1", 7, &now)
	sw.ID = id
	return sw
}

// OverdueSwitch builds a switch whose deadline passed daysOverdue days ago.
func OverdueSwitch(id int64, frequencyDays, daysOverdue int) *model.Switch {
	past := time.Now().UTC().Add(-time.Duration(frequencyDays+daysOverdue) * 24 * time.Hour)
	sw := NewTestSwitch("user-1", frequencyDays, &past)
	sw.ID = id
	return sw
}

// DeliveredSwitch builds a switch in its terminal state.
func DeliveredSwitch(id int64) *model.Switch {
	sw := SwitchWithID(id)
	now := time.Now().UTC()
	epoch := sw.Epoch
	sw.DeliveredAt = &now
	sw.DeliveredEpoch = &epoch
	sw.Delivering = false
	return sw
}

func DeliveryFilterByUser(userID string) model.DeliveryFilter {
	return model.DeliveryFilter{
		UserID: &userID,
		Limit:  50,
		Offset: 0,
		Desc:   true,
	}
}

func DeliveryFilterByStatus(userID string, status model.DeliveryStatus) model.DeliveryFilter {
	return model.DeliveryFilter{
		UserID: &userID,
		Status: &status,
		Limit:  50,
		Offset: 0,
		Desc:   true,
	}
}
