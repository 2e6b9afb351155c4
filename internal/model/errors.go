package model

import "errors"

var (
	// ErrSwitchNotFound is returned when a user has no switch row.
	ErrSwitchNotFound = errors.New("switch not found")

	// ErrNotEnabled is returned when an operation requires an enabled
	// switch, e.g. enabling without any recipients configured.
	ErrNotEnabled = errors.New("switch is not enabled")

	// ErrAlreadyDelivered is returned for mutations attempted after the
	// switch reached its terminal state. A bare check-in must never
	// silently revive a delivered switch.
	ErrAlreadyDelivered = errors.New("switch already delivered")

	// ErrClaimConflict signals that the conditional claim update
	// affected zero rows: another worker won, or a check-in landed
	// first. A normal skip, not a failure.
	ErrClaimConflict = errors.New("switch claim conflict")

	// ErrDeliveryFailed is a transport-level delivery failure. The
	// claim is released and the next scheduler tick retries.
	ErrDeliveryFailed = errors.New("delivery failed")
)
