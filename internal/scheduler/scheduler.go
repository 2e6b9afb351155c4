package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/finvault/lastwish-gateway/internal/countdown"
	"github.com/finvault/lastwish-gateway/internal/model"
	"github.com/finvault/lastwish-gateway/pkg/logger"
	"github.com/finvault/lastwish-gateway/pkg/prom"
)

const DefaultTickInterval = 5 * time.Minute
const DefaultClaimTTL = 30 * time.Minute
const ShutdownTimeout = 30 * time.Second

// SwitchRepository is the subset of switch storage the scheduler drives.
// Claim must be a conditional write: it succeeds for at most one caller
// per (switch, check-in) pair and fails with model.ErrClaimConflict for
// everyone else.
type SwitchRepository interface {
	ListCandidates(ctx context.Context) ([]*model.Switch, error)
	ListStaleClaims(ctx context.Context, cutoff time.Time) ([]*model.Switch, error)
	Claim(ctx context.Context, id int64, lastCheckIn time.Time) error
	ReleaseClaim(ctx context.Context, id int64) error
}

// Dispatcher hands a claimed switch off for delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *model.DeliveryJob) error
}

type Scheduler struct {
	repo       SwitchRepository
	dispatcher Dispatcher
	interval   time.Duration
	claimTTL   time.Duration
	now        func() time.Time
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewScheduler(repo SwitchRepository, dispatcher Dispatcher, interval, claimTTL time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		repo:       repo,
		dispatcher: dispatcher,
		interval:   interval,
		claimTTL:   claimTTL,
		now:        func() time.Time { return time.Now().UTC() },
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start runs the tick loop until Stop is called. The first tick fires
// immediately so a restart does not wait a full interval before looking
// at overdue switches.
func (s *Scheduler) Start() {
	logger.Info("Starting scheduler", "tick_interval", s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.Tick(s.ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(s.ctx)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler, waiting for an in-flight tick.
func (s *Scheduler) Stop() {
	logger.Info("Shutting down scheduler...")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(ShutdownTimeout):
		logger.Warn("Timeout waiting for scheduler tick to finish")
	}
	logger.Info("Scheduler stopped")
}

// Tick scans candidate switches once and dispatches every overdue one it
// manages to claim. A failure on one switch never blocks the rest of the
// batch.
func (s *Scheduler) Tick(ctx context.Context) {
	start := s.now()

	s.reapStaleClaims(ctx)

	candidates, err := s.repo.ListCandidates(ctx)
	if err != nil {
		logger.Error("Failed to list candidate switches", "error", err)
		return
	}

	scanned := 0
	overdue := 0
	dispatched := 0
	for _, sw := range candidates {
		select {
		case <-ctx.Done():
			logger.Warn("Tick cancelled mid-batch", "scanned", scanned, "dispatched", dispatched)
			return
		default:
		}

		scanned++
		isOverdue, ok, err := s.processSwitch(ctx, sw)
		if isOverdue {
			overdue++
		}
		if err != nil {
			logger.Error("Failed to process switch",
				"switch_id", sw.ID,
				"user_id", sw.UserID,
				"error", err)
			continue
		}
		if ok {
			dispatched++
		}
	}

	prom.SetSchedulerOverdue(float64(overdue))
	prom.AddSchedulerTickDuration(time.Since(start).Seconds())
	if dispatched > 0 || scanned > 0 {
		logger.Info("Scheduler tick complete",
			"scanned", scanned,
			"overdue", overdue,
			"dispatched", dispatched,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// reapStaleClaims releases claims whose delivery job is gone for good:
// a worker crash between claim and dispatch, or a job that exhausted
// its queue retries and was dead-lettered, leaves delivering = true
// with no delivery ever coming. Releasing puts the switch back in front
// of the candidate scan, so an overdue switch is retried rather than
// stranded.
func (s *Scheduler) reapStaleClaims(ctx context.Context) {
	cutoff := s.now().Add(-s.claimTTL)
	stale, err := s.repo.ListStaleClaims(ctx, cutoff)
	if err != nil {
		logger.Error("Failed to list stale claims", "error", err)
		return
	}

	for _, sw := range stale {
		if err := s.repo.ReleaseClaim(ctx, sw.ID); err != nil {
			logger.Error("Failed to release stale claim",
				"switch_id", sw.ID, "user_id", sw.UserID, "error", err)
			continue
		}
		logger.Warn("Released stale claim, switch returns to the candidate scan",
			"switch_id", sw.ID,
			"user_id", sw.UserID,
			"claimed_at", sw.UpdatedAt)
		prom.IncSchedulerClaim("reaped")
	}
}

// processSwitch evaluates one candidate and, if its deadline has passed,
// claims it and hands it to the dispatcher. Returns whether the switch
// is overdue and whether a delivery job was dispatched.
func (s *Scheduler) processSwitch(ctx context.Context, sw *model.Switch) (bool, bool, error) {
	// ListCandidates filters these out, but the row may have changed
	// between the scan and now.
	if sw.LastCheckIn == nil || !sw.IsEnabled {
		return false, false, nil
	}

	now := s.now()
	eval := countdown.EvaluateSwitch(sw, now)
	if !eval.IsOverdue {
		return false, false, nil
	}

	// The claim re-checks the evaluated check-in value, so a user who
	// checked in after the scan keeps their switch.
	if err := s.repo.Claim(ctx, sw.ID, *sw.LastCheckIn); err != nil {
		if errors.Is(err, model.ErrClaimConflict) {
			logger.Info("Claim lost, switch changed since scan",
				"switch_id", sw.ID, "user_id", sw.UserID)
			prom.IncSchedulerClaim("conflict")
			return true, false, nil
		}
		return true, false, err
	}
	prom.IncSchedulerClaim("claimed")

	daysOverdue := -eval.DaysLeft
	if daysOverdue >= 7 {
		logger.Error("Switch long overdue, dispatching delivery",
			"switch_id", sw.ID, "user_id", sw.UserID, "days_overdue", daysOverdue)
	} else {
		logger.Warn("Switch overdue, dispatching delivery",
			"switch_id", sw.ID, "user_id", sw.UserID, "days_overdue", daysOverdue)
	}

	job := &model.DeliveryJob{
		SwitchID:  sw.ID,
		UserID:    sw.UserID,
		Epoch:     sw.Epoch,
		ClaimedAt: now,
	}

	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		// Give the claim back so the next tick retries this switch.
		if relErr := s.repo.ReleaseClaim(ctx, sw.ID); relErr != nil {
			logger.Error("Failed to release claim after dispatch failure",
				"switch_id", sw.ID, "error", relErr)
		}
		return true, false, err
	}

	return true, true, nil
}
