package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finvault/lastwish-gateway/internal/model"
)

// Payload is what gets mailed to every recipient of a released switch.
type Payload struct {
	Subject    string
	HTMLBody   string
	Attachment json.RawMessage
}

// Exporter composes the release payload for a switch. Payload contents
// are opaque to the trigger; implementations decide what a release
// actually contains.
type Exporter interface {
	Export(ctx context.Context, sw *model.Switch) (*Payload, error)
}

// SummaryExporter is the minimal exporter: a short notice plus a JSON
// attachment describing the release.
type SummaryExporter struct {
	now func() time.Time
}

func NewSummaryExporter() *SummaryExporter {
	return &SummaryExporter{
		now: func() time.Time { return time.Now().UTC() },
	}
}

type summaryAttachment struct {
	UserID        string     `json:"user_id"`
	FrequencyDays int        `json:"frequency_days"`
	LastCheckIn   *time.Time `json:"last_check_in"`
	Epoch         int        `json:"epoch"`
	GeneratedAt   time.Time  `json:"generated_at"`
}

func (e *SummaryExporter) Export(ctx context.Context, sw *model.Switch) (*Payload, error) {
	attachment, err := json.Marshal(summaryAttachment{
		UserID:        sw.UserID,
		FrequencyDays: sw.FrequencyDays,
		LastCheckIn:   sw.LastCheckIn,
		Epoch:         sw.Epoch,
		GeneratedAt:   e.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build release attachment: %w", err)
	}

	var lastSeen string
	if sw.LastCheckIn != nil {
		lastSeen = sw.LastCheckIn.Format("January 2, 2006")
	} else {
		lastSeen = "unknown"
	}

	body := fmt.Sprintf(
		"<html><body>"+
			"<p>You are receiving this message because you were named as a trusted contact.</p>"+
			"<p>The account holder has not checked in since <b>%s</b>, and asked that this "+
			"information be shared with you if that ever happened.</p>"+
			"<p>The attached document contains the details they chose to leave behind.</p>"+
			"</body></html>",
		lastSeen,
	)

	return &Payload{
		Subject:    "A message left for you",
		HTMLBody:   body,
		Attachment: attachment,
	}, nil
}
