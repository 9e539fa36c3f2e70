package domain

import "errors"

// Sentinel errors for the ledger engine. Every failed operation surfaces one
// of these (wrapped with operation context) so callers can classify faults
// with errors.Is.
var (
	// ErrUnauthorized means the caller lacks the required role or voting
	// power for the operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState means the target entity is in the wrong lifecycle
	// state: voting after the window closed, double-voting, attesting a
	// completed transfer, and so on.
	ErrInvalidState = errors.New("invalid state")

	// ErrOutOfBounds means a numeric input is outside its allowed range
	// (allocation above 10000 bps, quorum outside (0,100], fee above cap).
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrInsufficient means the caller holds too little of a resource:
	// shares, stake, voting power, or a zero/below-minimum amount.
	ErrInsufficient = errors.New("insufficient resource")

	// ErrHalted means the emergency stop or pause circuit breaker is
	// engaged for the component.
	ErrHalted = errors.New("system halted")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
)
