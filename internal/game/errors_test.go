package game

import (
	"errors"
	"fmt"
	"testing"

	"crashgame/internal/ledger"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err       error
		want      ErrorKind
		retryable bool
	}{
		{ErrInvalidAmount, KindValidation, false},
		{ErrInvalidTarget, KindValidation, false},
		{ledger.ErrInvalidAmount, KindValidation, false},
		{ledger.ErrAmountScale, KindValidation, false},
		{ErrMultiplierScale, KindValidation, false},
		{ErrBettingClosed, KindState, false},
		{ErrRoundNotRunning, KindState, false},
		{ErrGameDisabled, KindState, false},
		{ErrBetLimit, KindState, false},
		{ledger.ErrInsufficientFunds, KindInsufficientFunds, false},
		{ErrBetNotFound, KindNotFound, false},
		{ErrRoundNotFound, KindNotFound, false},
		{ErrConflict, KindConflict, true},
		{fmt.Errorf("place bet: %w", ErrConflict), KindConflict, true},
		{errors.New("connection refused"), KindInternal, true},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			got := KindOf(tt.err)
			if got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
			if got.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", got.Retryable(), tt.retryable)
			}
		})
	}
}
