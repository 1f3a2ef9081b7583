package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EVENT_ROUND_WAITING  = "round_waiting"
	EVENT_ROUND_STARTED  = "round_started"
	EVENT_MULTIPLIER     = "multiplier"
	EVENT_BET_PLACED     = "bet_placed"
	EVENT_BET_CASHED_OUT = "bet_cashed_out"
	EVENT_ROUND_CRASHED  = "round_crashed"
	EVENT_GAME_DISABLED  = "game_disabled"
	EVENT_INITIAL_STATE  = "initial_state"
)

type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type RoundWaitingMessage struct {
	RoundID        uuid.UUID `json:"round_id"`
	RoundNumber    int64     `json:"round_number"`
	NextRoundAt    time.Time `json:"next_round_at"`
	ServerSeedHash string    `json:"server_seed_hash"`
}

type RoundStartedMessage struct {
	RoundID     uuid.UUID `json:"round_id"`
	RoundNumber int64     `json:"round_number"`
	StartedAt   time.Time `json:"started_at"`
}

type MultiplierMessage struct {
	RoundID    uuid.UUID       `json:"round_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

type BetPlacedMessage struct {
	BetID            uuid.UUID           `json:"bet_id"`
	RoundID          uuid.UUID           `json:"round_id"`
	UserLabel        string              `json:"user_label"`
	Amount           decimal.Decimal     `json:"amount"`
	TargetMultiplier decimal.NullDecimal `json:"target_multiplier"`
	Status           BetStatus           `json:"status"`
}

type CashoutMessage struct {
	BetID      uuid.UUID       `json:"bet_id"`
	RoundID    uuid.UUID       `json:"round_id"`
	UserLabel  string          `json:"user_label"`
	Amount     decimal.Decimal `json:"amount"`
	Multiplier decimal.Decimal `json:"cashout_multiplier"`
	WinAmount  decimal.Decimal `json:"win_amount"`
	Status     BetStatus       `json:"status"`
	Auto       bool            `json:"auto"`
}

type RoundCrashedMessage struct {
	RoundID         uuid.UUID       `json:"round_id"`
	RoundNumber     int64           `json:"round_number"`
	CrashMultiplier decimal.Decimal `json:"crash_multiplier"`
	ServerSeed      string          `json:"server_seed"`
	ServerSeedHash  string          `json:"server_seed_hash"`
}

type GameDisabledMessage struct {
	Message string `json:"message"`
}
