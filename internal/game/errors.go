package game

import (
	"errors"

	"crashgame/internal/ledger"
)

var (
	ErrInvalidAmount = errors.New("bet amount must be positive")
	ErrInvalidTarget = errors.New("auto cashout must be greater than 1.00x")

	ErrAmountScale     = ledger.ErrAmountScale
	ErrMultiplierScale = errors.New("multiplier must have at most 2 decimal places")

	ErrBettingClosed   = errors.New("bets are closed for the current round")
	ErrRoundNotRunning = errors.New("round is not in progress")
	ErrGameDisabled    = errors.New("crash game is currently disabled")
	ErrBetLimit        = errors.New("active bet limit reached for this round")

	ErrInsufficientFunds = ledger.ErrInsufficientFunds

	ErrBetNotFound   = errors.New("no active bet for this round")
	ErrRoundNotFound = errors.New("round not found")

	ErrConflict = errors.New("concurrent update detected, retry")
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindState
	KindInsufficientFunds
	KindNotFound
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Retryable reports whether the caller may simply try again.
func (k ErrorKind) Retryable() bool {
	return k == KindConflict || k == KindInternal
}

// KindOf classifies an error returned by the gateway.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidTarget), errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ErrAmountScale), errors.Is(err, ErrMultiplierScale):
		return KindValidation
	case errors.Is(err, ErrBettingClosed), errors.Is(err, ErrRoundNotRunning),
		errors.Is(err, ErrGameDisabled), errors.Is(err, ErrBetLimit):
		return KindState
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrBetNotFound), errors.Is(err, ErrRoundNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}
