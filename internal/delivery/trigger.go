package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finvault/lastwish-gateway/internal/countdown"
	gateway "github.com/finvault/lastwish-gateway/internal/gateways"
	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/finvault/lastwish-gateway/pkg/logger"
	"github.com/finvault/lastwish-gateway/pkg/prom"
)

type SwitchRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Switch, error)
	MarkDelivered(ctx context.Context, id int64, now time.Time) error
	ReleaseClaim(ctx context.Context, id int64) error
}

type DeliveryRepository interface {
	Create(ctx context.Context, d *model.Delivery) (*model.Delivery, error)
}

type MailGateway interface {
	SendEmail(ctx context.Context, req *gateway.SendRequest) (*gateway.SendResponse, error)
}

// Trigger executes a claimed delivery job: it composes the release
// payload and mails it to every recipient. The switch is marked
// delivered only when every recipient succeeded; any failure releases
// the claim so the scheduler retries on its next tick.
type Trigger struct {
	switches    SwitchRepository
	deliveries  DeliveryRepository
	mail        MailGateway
	exporter    Exporter
	idempotency *Idempotency
	now         func() time.Time
}

func NewTrigger(switches SwitchRepository, deliveries DeliveryRepository, mail MailGateway, exporter Exporter, idempotency *Idempotency) *Trigger {
	return &Trigger{
		switches:    switches,
		deliveries:  deliveries,
		mail:        mail,
		exporter:    exporter,
		idempotency: idempotency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Deliver runs one delivery job. A nil return acknowledges the job; an
// error leaves it on the queue for redelivery.
func (t *Trigger) Deliver(ctx context.Context, job *model.DeliveryJob) error {
	sw, err := t.switches.GetByID(ctx, job.SwitchID)
	if err != nil {
		if errors.Is(err, model.ErrSwitchNotFound) {
			logger.Warn("Delivery job for missing switch, dropping",
				"switch_id", job.SwitchID, "user_id", job.UserID)
			return nil
		}
		return err
	}

	// Stale redeliveries: the switch was already delivered, or the claim
	// was released/reset since this job was published. Either way the
	// scheduler owns the retry, not the queue.
	if sw.Delivered() {
		logger.Info("Switch already delivered, dropping job",
			"switch_id", sw.ID, "user_id", sw.UserID, "epoch", sw.Epoch)
		return nil
	}
	if !sw.Delivering || sw.Epoch != job.Epoch {
		logger.Info("Delivery job no longer matches switch state, dropping",
			"switch_id", sw.ID, "job_epoch", job.Epoch, "epoch", sw.Epoch,
			"delivering", sw.Delivering)
		return nil
	}

	acquired, err := t.idempotency.AcquireLock(ctx, sw.ID, sw.Epoch)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("delivery lock held by another worker: switch_id=%d", sw.ID)
	}
	defer t.idempotency.ReleaseLock(ctx, sw.ID, sw.Epoch)

	t.logOverdue(sw, job)

	payload, err := t.exporter.Export(ctx, sw)
	if err != nil {
		logger.Error("Failed to compose release payload",
			"switch_id", sw.ID, "user_id", sw.UserID, "error", err)
		return t.fail(ctx, sw, err)
	}

	var failed int
	for i, recipient := range sw.Recipients {
		if t.idempotency.RecipientSent(ctx, sw.ID, sw.Epoch, recipient.Email) {
			logger.Info("Recipient already mailed this epoch, skipping",
				"switch_id", sw.ID, "email", recipient.Email)
			continue
		}

		if err := t.sendToRecipient(ctx, sw, i, recipient, payload); err != nil {
			logger.Error("Failed to mail recipient",
				"switch_id", sw.ID, "email", recipient.Email, "error", err)
			failed++
		}
	}

	if failed > 0 {
		err := fmt.Errorf("%w: %d of %d recipients failed",
			model.ErrDeliveryFailed, failed, len(sw.Recipients))
		return t.fail(ctx, sw, err)
	}

	now := t.now()
	if err := t.switches.MarkDelivered(ctx, sw.ID, now); err != nil {
		if errors.Is(err, model.ErrClaimConflict) {
			// The claim vanished under us (reset or release). The mails
			// are out; the sent markers keep a rerun from repeating them.
			logger.Warn("Claim lost while marking delivered",
				"switch_id", sw.ID, "user_id", sw.UserID)
			return nil
		}
		return err
	}

	prom.IncNotificationSent("sent")
	prom.AddNotificationDeliveryDuration(now.Sub(job.ClaimedAt).Seconds(), "sent")
	logger.Info("Switch delivered",
		"switch_id", sw.ID,
		"user_id", sw.UserID,
		"epoch", sw.Epoch,
		"recipients", len(sw.Recipients))
	return nil
}

// sendToRecipient mails one recipient and records the attempt.
func (t *Trigger) sendToRecipient(ctx context.Context, sw *model.Switch, index int, recipient model.Recipient, payload *Payload) error {
	req := &gateway.SendRequest{
		DeliveryID: fmt.Sprintf("%d-%d-%d", sw.ID, sw.Epoch, index),
		To:         recipient.Email,
		ToName:     recipient.Name,
		Subject:    payload.Subject,
		Body:       payload.HTMLBody,
		Attachment: payload.Attachment,
	}

	res, err := t.mail.SendEmail(ctx, req)
	if err == nil && res.Status != gateway.StatusDelivered {
		err = fmt.Errorf("provider returned status %s", res.Status)
	}

	row := &model.Delivery{
		SwitchID:       sw.ID,
		UserID:         sw.UserID,
		Epoch:          sw.Epoch,
		RecipientEmail: recipient.Email,
	}

	if err != nil {
		row.Status = model.DeliveryStatusFailed
		row.ErrorMessage = err.Error()
		if _, createErr := t.deliveries.Create(ctx, row); createErr != nil {
			logger.Error("Failed to record delivery attempt",
				"switch_id", sw.ID, "email", recipient.Email, "error", createErr)
		}
		prom.IncNotificationSent("failed")
		return err
	}

	sentAt := t.now()
	row.Status = model.DeliveryStatusSent
	row.SentAt = &sentAt
	if _, createErr := t.deliveries.Create(ctx, row); createErr != nil {
		logger.Error("Failed to record delivery attempt",
			"switch_id", sw.ID, "email", recipient.Email, "error", createErr)
	}

	if markErr := t.idempotency.MarkRecipientSent(ctx, sw.ID, sw.Epoch, recipient.Email); markErr != nil {
		// The mail went out; a marker failure only risks a duplicate on
		// a later retry.
		logger.Warn("Failed to set recipient sent marker",
			"switch_id", sw.ID, "email", recipient.Email, "error", markErr)
	}
	return nil
}

// fail releases the claim so the next scheduler tick retries: retry
// ownership moves back to the scheduler. The cause is returned, so the
// queue may still redeliver the job a few times before dead-lettering
// it; those redeliveries find the claim released and are dropped.
func (t *Trigger) fail(ctx context.Context, sw *model.Switch, cause error) error {
	if err := t.switches.ReleaseClaim(ctx, sw.ID); err != nil {
		logger.Error("Failed to release claim after delivery failure",
			"switch_id", sw.ID, "error", err)
		return err
	}
	return cause
}

// logOverdue escalates severity with how long the switch has been
// overdue: deliveries failing for days are louder than fresh ones.
func (t *Trigger) logOverdue(sw *model.Switch, job *model.DeliveryJob) {
	eval := countdown.EvaluateSwitch(sw, t.now())
	daysOverdue := -eval.DaysLeft
	switch {
	case daysOverdue >= 3:
		logger.Error("Delivering long-overdue switch",
			"switch_id", sw.ID, "user_id", sw.UserID, "days_overdue", daysOverdue)
	case daysOverdue >= 1:
		logger.Warn("Delivering overdue switch",
			"switch_id", sw.ID, "user_id", sw.UserID, "days_overdue", daysOverdue)
	default:
		logger.Info("Delivering switch",
			"switch_id", sw.ID, "user_id", sw.UserID)
	}
}
