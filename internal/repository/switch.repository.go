package repository

import (
	"context"
	"errors"
	"time"

	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/finvault/lastwish-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotTerminal is returned when a reset is attempted on a switch
	// that has not been delivered in its current epoch.
	ErrNotTerminal = errors.New("switch is not in a delivered state")
)

// SwitchRepository owns the last_wish_settings rows. Every mutation is
// a single-row conditional update; the claim/check-in race is decided
// by the database, never by application-level locking.
type SwitchRepository struct {
	*pg.DB
}

func NewSwitchRepository(db *pg.DB) *SwitchRepository {
	return &SwitchRepository{
		db,
	}
}

func (r *SwitchRepository) GetByUserID(ctx context.Context, userID string) (*model.Switch, error) {
	var entity SwitchEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrSwitchNotFound
		}
		return nil, err
	}
	return toSwitchModel(&entity), nil
}

func (r *SwitchRepository) GetByID(ctx context.Context, id int64) (*model.Switch, error) {
	var entity SwitchEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrSwitchNotFound
		}
		return nil, err
	}
	return toSwitchModel(&entity), nil
}

// Upsert creates the switch on first opt-in or updates its settings.
// Only the settings columns are written: last_check_in, the claim flag
// and the epoch/delivery bookkeeping are never touched here, so a
// frequency change takes effect against the existing check-in clock.
func (r *SwitchRepository) Upsert(ctx context.Context, p model.SwitchUpsertRequest) (*model.Switch, error) {
	entity := &SwitchEntity{
		UserID:        p.UserID,
		IsEnabled:     p.IsEnabled,
		FrequencyDays: p.FrequencyDays,
		Recipients:    marshalRecipients(p.Recipients),
	}

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_enabled", "frequency_days", "recipients", "updated_at"}),
		}).
		Create(entity).
		Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, p.UserID)
}

// CheckIn moves last_check_in to now for the given user. The update is
// conditional: it never runs against a switch delivered in its current
// epoch, and it never moves the clock backwards.
func (r *SwitchRepository) CheckIn(ctx context.Context, userID string, now time.Time) (*model.Switch, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&SwitchEntity{}).
		Where("user_id = ?", userID).
		Where("delivered_epoch IS NULL OR delivered_epoch < epoch").
		Where("last_check_in IS NULL OR last_check_in <= ?", now).
		Update("last_check_in", now)
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		// Zero rows: missing, terminal, or a later check-in already
		// landed. Reload to tell them apart.
		current, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if current.Delivered() {
			return nil, model.ErrAlreadyDelivered
		}
		return current, nil
	}

	return r.GetByUserID(ctx, userID)
}

// ListCandidates returns the switches a scheduler tick must evaluate:
// enabled, not yet delivered in the current epoch, not mid-delivery,
// and with at least one check-in on record. Overdue evaluation happens
// in the caller against the tick time.
func (r *SwitchRepository) ListCandidates(ctx context.Context) ([]*model.Switch, error) {
	var entities []*SwitchEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("is_enabled = ?", true).
		Where("delivering = ?", false).
		Where("delivered_epoch IS NULL OR delivered_epoch < epoch").
		Where("last_check_in IS NOT NULL").
		Order("last_check_in ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toSwitchModels(entities), nil
}

// ListStaleClaims returns claimed switches whose claim row has not been
// touched since cutoff. A claim whose delivery job died with the worker
// (crash between claim and dispatch, or a job that exhausted the queue
// and landed in the DLQ) leaves delivering = true behind with nobody
// coming back for it; the scheduler releases these so a later tick can
// re-claim. Claiming and delivering both bump updated_at, so a claim
// with a live worker never looks stale.
func (r *SwitchRepository) ListStaleClaims(ctx context.Context, cutoff time.Time) ([]*model.Switch, error) {
	var entities []*SwitchEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("delivering = ?", true).
		Where("delivered_epoch IS NULL OR delivered_epoch < epoch").
		Where("updated_at < ?", cutoff).
		Order("updated_at ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toSwitchModels(entities), nil
}

// Claim marks a switch as delivering. lastCheckIn must be the value the
// overdue evaluation was computed from: a check-in (or disable) that
// committed after the evaluation makes the claim miss, which is exactly
// the cancellation window the design allows. Zero affected rows is
// reported as ErrClaimConflict and is a normal outcome.
func (r *SwitchRepository) Claim(ctx context.Context, id int64, lastCheckIn time.Time) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&SwitchEntity{}).
		Where("id = ?", id).
		Where("is_enabled = ?", true).
		Where("delivering = ?", false).
		Where("delivered_epoch IS NULL OR delivered_epoch < epoch").
		Where("last_check_in = ?", lastCheckIn).
		Update("delivering", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrClaimConflict
	}
	return nil
}

// MarkDelivered stamps the terminal state for the current epoch and
// clears the claim flag. Only a claimed, undelivered switch can be
// stamped, so a duplicate delivery attempt falls out as a conflict.
func (r *SwitchRepository) MarkDelivered(ctx context.Context, id int64, now time.Time) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&SwitchEntity{}).
		Where("id = ?", id).
		Where("delivering = ?", true).
		Where("delivered_epoch IS NULL OR delivered_epoch < epoch").
		Updates(map[string]interface{}{
			"delivered_at":    now,
			"delivered_epoch": gorm.Expr("epoch"),
			"delivering":      false,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrClaimConflict
	}
	return nil
}

// ReleaseClaim clears the delivering flag after a failed delivery so a
// future tick retries. Releasing an unclaimed switch is a no-op.
func (r *SwitchRepository) ReleaseClaim(ctx context.Context, id int64) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&SwitchEntity{}).
		Where("id = ?", id).
		Where("delivering = ?", true).
		Where("delivered_epoch IS NULL OR delivered_epoch < epoch").
		Update("delivering", false).
		Error
}

// Reset re-arms a delivered switch as a new logical object: the epoch
// is incremented and the clock starts from now. The delivery stamp is
// kept for audit; delivered_at never goes back to null.
func (r *SwitchRepository) Reset(ctx context.Context, userID string, now time.Time) (*model.Switch, error) {
	result := r.Write(ctx).WithContext(ctx).
		Model(&SwitchEntity{}).
		Where("user_id = ?", userID).
		Where("delivered_epoch = epoch").
		Updates(map[string]interface{}{
			"epoch":         gorm.Expr("epoch + 1"),
			"last_check_in": now,
			"is_enabled":    true,
			"delivering":    false,
		})
	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, userID); err != nil {
			return nil, err
		}
		return nil, ErrNotTerminal
	}

	return r.GetByUserID(ctx, userID)
}
