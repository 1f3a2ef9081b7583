package game

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Phase string

const (
	PhaseDisabled   Phase = "Disabled"
	PhaseWaiting    Phase = "Waiting"
	PhaseInProgress Phase = "InProgress"
	PhaseCrashed    Phase = "Crashed"
)

type RoundStatus string

const (
	RoundWaiting    RoundStatus = "Waiting"
	RoundInProgress RoundStatus = "InProgress"
	RoundCrashed    RoundStatus = "Crashed"
)

type BetStatus string

const (
	BetActive    BetStatus = "Active"
	BetCashedOut BetStatus = "CashedOut"
	BetLost      BetStatus = "Lost"
)

// Round is one persisted cycle of the game. ServerSeed and CrashMultiplier are
// secret until the round has crashed.
type Round struct {
	ID              uuid.UUID       `json:"round_id"`
	Number          int64           `json:"round_number"`
	Status          RoundStatus     `json:"status"`
	ServerSeed      string          `json:"-"`
	ServerSeedHash  string          `json:"server_seed_hash"`
	ClientSeed      string          `json:"client_seed"`
	Nonce           int64           `json:"nonce"`
	CrashMultiplier decimal.Decimal `json:"-"`
	HouseEdge       decimal.Decimal `json:"house_edge"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
}

type Bet struct {
	ID                uuid.UUID           `json:"bet_id"`
	RoundID           uuid.UUID           `json:"round_id"`
	UserID            uuid.UUID           `json:"-"`
	Amount            decimal.Decimal     `json:"amount"`
	TargetMultiplier  decimal.NullDecimal `json:"target_multiplier"`
	CashoutMultiplier decimal.NullDecimal `json:"cashout_multiplier"`
	WinAmount         decimal.Decimal     `json:"win_amount"`
	Status            BetStatus           `json:"status"`
	CreatedAt         time.Time           `json:"created_at"`
	CashedOutAt       *time.Time          `json:"cashed_out_at,omitempty"`
}

type BetRequest struct {
	UserID      uuid.UUID           `json:"-"`
	Amount      decimal.Decimal     `json:"amount"`
	AutoCashout decimal.NullDecimal `json:"auto_cashout"`
}

type BetResponse struct {
	BetID       uuid.UUID           `json:"bet_id"`
	RoundID     uuid.UUID           `json:"round_id"`
	Amount      decimal.Decimal     `json:"amount"`
	AutoCashout decimal.NullDecimal `json:"auto_cashout"`
	Balance     decimal.Decimal     `json:"balance"`
	Status      BetStatus           `json:"status"`
}

type CashoutRequest struct {
	UserID uuid.UUID `json:"-"`
	BetID  uuid.UUID `json:"bet_id"`
}

type CashoutResponse struct {
	BetID      uuid.UUID       `json:"bet_id"`
	RoundID    uuid.UUID       `json:"round_id"`
	Multiplier decimal.Decimal `json:"cashout_multiplier"`
	WinAmount  decimal.Decimal `json:"win_amount"`
	Balance    decimal.Decimal `json:"balance"`
}

type CrashHistoryItem struct {
	RoundID         uuid.UUID       `json:"round_id"`
	CrashMultiplier decimal.Decimal `json:"crash_multiplier"`
	EndedAt         time.Time       `json:"ended_at"`
}

type BetView struct {
	BetID             uuid.UUID           `json:"bet_id"`
	RoundID           uuid.UUID           `json:"round_id"`
	UserLabel         string              `json:"user_label"`
	Amount            decimal.Decimal     `json:"amount"`
	TargetMultiplier  decimal.NullDecimal `json:"target_multiplier"`
	CashoutMultiplier decimal.NullDecimal `json:"cashout_multiplier"`
	WinAmount         decimal.Decimal     `json:"win_amount"`
	Status            BetStatus           `json:"status"`
	IsMine            bool                `json:"is_mine"`
}

// RoundAudit is the public fairness record of a round. The seed and the
// multiplier stay empty until the round has crashed.
type RoundAudit struct {
	RoundID         uuid.UUID           `json:"round_id"`
	RoundNumber     int64               `json:"round_number"`
	Status          RoundStatus         `json:"status"`
	ServerSeedHash  string              `json:"server_seed_hash"`
	ClientSeed      string              `json:"client_seed"`
	Nonce           int64               `json:"nonce"`
	HouseEdge       decimal.Decimal     `json:"house_edge"`
	ServerSeed      string              `json:"server_seed,omitempty"`
	CrashMultiplier decimal.NullDecimal `json:"crash_multiplier"`
	Verification    *Verification       `json:"verification,omitempty"`
}
