package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RoundState is a copy of what every request needs to know about the live round.
type RoundState struct {
	RoundID        uuid.UUID       `json:"round_id"`
	RoundNumber    int64           `json:"round_number"`
	Phase          Phase           `json:"phase"`
	IsEnabled      bool            `json:"is_enabled"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	RoundStartedAt *time.Time      `json:"round_started_at"`
	NextRoundAt    *time.Time      `json:"next_round_at"`
}

// HasActiveRound is false while the game is disabled or before the first round.
func (s RoundState) HasActiveRound() bool {
	return s.RoundID != uuid.Nil
}

// SharedState is the single lock-protected cell the scheduler writes and the
// gateway reads. The lock is held only to copy or assign scalars.
type SharedState struct {
	mu    sync.RWMutex
	state RoundState
}

func NewSharedState() *SharedState {
	return &SharedState{
		state: RoundState{
			Phase:      PhaseWaiting,
			IsEnabled:  true,
			Multiplier: MIN_MULTIPLIER,
		},
	}
}

func (s *SharedState) Snapshot() RoundState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *SharedState) SetDisabled(retryAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = RoundState{
		Phase:       PhaseDisabled,
		IsEnabled:   false,
		Multiplier:  MIN_MULTIPLIER,
		NextRoundAt: &retryAt,
	}
}

func (s *SharedState) OpenRound(id uuid.UUID, number int64, nextRoundAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = RoundState{
		RoundID:     id,
		RoundNumber: number,
		Phase:       PhaseWaiting,
		IsEnabled:   true,
		Multiplier:  MIN_MULTIPLIER,
		NextRoundAt: &nextRoundAt,
	}
}

func (s *SharedState) StartRound(startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Phase = PhaseInProgress
	s.state.Multiplier = MIN_MULTIPLIER
	s.state.RoundStartedAt = &startedAt
	s.state.NextRoundAt = nil
}

func (s *SharedState) SetMultiplier(m decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Multiplier = m
}

// Crash flips phase and final multiplier together so no reader sees an
// InProgress round carrying the crash value.
func (s *SharedState) Crash(final decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Phase = PhaseCrashed
	s.state.Multiplier = final
}
