package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/finvault/lastwish-gateway/pkg/logger"
	"github.com/finvault/lastwish-gateway/pkg/redis"
)

type IdempotencyConfig struct {
	// LockTTL bounds how long one worker may hold a switch while it
	// walks the recipient list.
	LockTTL time.Duration

	// ProcessedTTL is how long per-recipient sent markers survive. It
	// must outlive the longest plausible claim-release-retry cycle so a
	// retried delivery never re-mails a recipient who already got the
	// payload.
	ProcessedTTL time.Duration

	LockKeyPrefix      string
	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            2 * time.Minute,
		ProcessedTTL:       7 * 24 * time.Hour,
		LockKeyPrefix:      "lastwish:lock:",
		ProcessedKeyPrefix: "lastwish:sent:",
	}
}

// Idempotency keeps the redis-side delivery bookkeeping: a short lock
// per (switch, epoch) so concurrent workers never interleave sends, and
// a long-lived marker per (switch, epoch, recipient) so retries skip
// recipients that were already mailed.
type Idempotency struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotency(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *Idempotency {
	return &Idempotency{
		redis:  redisAdapter,
		config: config,
	}
}

func (s *Idempotency) lockKey(switchID int64, epoch int) string {
	return fmt.Sprintf("%s%d:%d", s.config.LockKeyPrefix, switchID, epoch)
}

func (s *Idempotency) recipientKey(switchID int64, epoch int, email string) string {
	return fmt.Sprintf("%s%d:%d:%s", s.config.ProcessedKeyPrefix, switchID, epoch, email)
}

// AcquireLock takes the per-switch delivery lock. Returns false when
// another worker holds it.
func (s *Idempotency) AcquireLock(ctx context.Context, switchID int64, epoch int) (bool, error) {
	key := s.lockKey(switchID, epoch)
	value := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(key, value, s.config.LockTTL)
	if err != nil {
		return false, fmt.Errorf("failed to acquire delivery lock: %w", err)
	}
	return acquired, nil
}

func (s *Idempotency) ReleaseLock(ctx context.Context, switchID int64, epoch int) {
	if err := s.redis.Del(s.lockKey(switchID, epoch)); err != nil {
		logger.Warn("Failed to release delivery lock", "switch_id", switchID, "error", err)
	}
}

// MarkRecipientSent records that a recipient received the payload for
// this epoch.
func (s *Idempotency) MarkRecipientSent(ctx context.Context, switchID int64, epoch int, email string) error {
	key := s.recipientKey(switchID, epoch, email)
	return s.redis.Set(key, []byte("1"), s.config.ProcessedTTL)
}

// RecipientSent reports whether a recipient already received the payload
// for this epoch. Errors degrade to "not sent": a duplicate email beats
// dropping one.
func (s *Idempotency) RecipientSent(ctx context.Context, switchID int64, epoch int, email string) bool {
	exists, err := s.redis.Exist(s.recipientKey(switchID, epoch, email))
	if err != nil {
		logger.Warn("Failed to check recipient sent marker",
			"switch_id", switchID, "email", email, "error", err)
		return false
	}
	return exists > 0
}
