package services

import (
	"context"
	"time"

	"github.com/finvault/lastwish-gateway/internal/countdown"
	"github.com/finvault/lastwish-gateway/internal/model"
)

type SwitchRepository interface {
	GetByUserID(ctx context.Context, userID string) (*model.Switch, error)
	Upsert(ctx context.Context, p model.SwitchUpsertRequest) (*model.Switch, error)
	CheckIn(ctx context.Context, userID string, now time.Time) (*model.Switch, error)
	Reset(ctx context.Context, userID string, now time.Time) (*model.Switch, error)
}

type DeliveryRepository interface {
	List(ctx context.Context, f model.DeliveryFilter) ([]*model.Delivery, int64, error)
}

// SwitchStatus is the evaluated view of a switch served to the client:
// the stored settings plus the countdown computed at request time.
type SwitchStatus struct {
	Switch     *model.Switch        `json:"switch"`
	Evaluation countdown.Evaluation `json:"evaluation"`
}

type SwitchService struct {
	switchRepo   SwitchRepository
	deliveryRepo DeliveryRepository
	now          func() time.Time
}

func NewSwitchService(switchRepo SwitchRepository, deliveryRepo DeliveryRepository) *SwitchService {
	return &SwitchService{
		switchRepo:   switchRepo,
		deliveryRepo: deliveryRepo,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// CheckIn resets the user's countdown clock. In the terminal state it
// fails with ErrAlreadyDelivered; a disabled switch accepts the
// check-in but stays inert until re-enabled.
func (s *SwitchService) CheckIn(ctx context.Context, userID string) (*model.Switch, error) {
	return s.switchRepo.CheckIn(ctx, userID, s.now())
}

// UpdateSettings validates and writes the user's configuration. The
// check-in clock is untouched: a frequency change counts against the
// existing last check-in.
func (s *SwitchService) UpdateSettings(ctx context.Context, p model.SwitchUpsertRequest) (*model.Switch, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	current, err := s.switchRepo.GetByUserID(ctx, p.UserID)
	if err == nil && current.Delivered() && p.IsEnabled {
		// Re-enabling a delivered switch needs the explicit reset path.
		return nil, model.ErrAlreadyDelivered
	} else if err != nil && err != model.ErrSwitchNotFound {
		return nil, err
	}

	return s.switchRepo.Upsert(ctx, p)
}

// Status returns the switch with its countdown evaluated now.
func (s *SwitchService) Status(ctx context.Context, userID string) (*SwitchStatus, error) {
	sw, err := s.switchRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &SwitchStatus{
		Switch:     sw,
		Evaluation: countdown.EvaluateSwitch(sw, s.now()),
	}, nil
}

// Reset re-arms a delivered switch as a fresh epoch. This is the only
// way back from the terminal state and is deliberately a separate,
// auditable operation rather than a side effect of check-in.
func (s *SwitchService) Reset(ctx context.Context, userID string) (*model.Switch, error) {
	return s.switchRepo.Reset(ctx, userID, s.now())
}

// Deliveries lists the user's delivery log.
func (s *SwitchService) Deliveries(ctx context.Context, f model.DeliveryFilter) ([]*model.Delivery, int64, error) {
	return s.deliveryRepo.List(ctx, f)
}
