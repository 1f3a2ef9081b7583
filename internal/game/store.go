package game

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashgame/internal/ledger"
)

// Store is the durable home of rounds, bets and wallets.
type Store interface {
	// InTx runs fn as one serializable unit of work. The work is committed when
	// fn returns nil and rolled back otherwise. A serialization failure is
	// retried once before ErrConflict is returned.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	LastRound(ctx context.Context) (*Round, error)
	Round(ctx context.Context, id uuid.UUID) (*Round, error)
	RecentCrashes(ctx context.Context, limit int) ([]CrashHistoryItem, error)
	RoundBets(ctx context.Context, roundID uuid.UUID) ([]Bet, error)
	Wallet(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error)
	Entries(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Entry, error)
}

// Tx is the view of the store inside a unit of work. Every read re-reads the
// row; the Lock variants hold it exclusively until commit.
type Tx interface {
	ledger.Accounts

	InsertRound(ctx context.Context, round *Round) error
	LockRound(ctx context.Context, id uuid.UUID) (*Round, error)
	ReadRound(ctx context.Context, id uuid.UUID) (*Round, error)
	UpdateRound(ctx context.Context, round *Round) error
	OpenRounds(ctx context.Context) ([]Round, error)

	InsertBet(ctx context.Context, bet *Bet) error
	LockBet(ctx context.Context, id uuid.UUID) (*Bet, error)
	CountActiveBets(ctx context.Context, roundID, userID uuid.UUID) (int, error)
	ActiveBets(ctx context.Context, roundID uuid.UUID) ([]Bet, error)
	AutoCashoutCandidates(ctx context.Context, roundID uuid.UUID, multiplier decimal.Decimal) ([]Bet, error)

	// TransitionBet writes bet's terminal fields only if the stored bet is still
	// Active, and reports whether it did.
	TransitionBet(ctx context.Context, bet *Bet) (bool, error)
	// ForfeitActiveBets moves every Active bet of the round to Lost.
	ForfeitActiveBets(ctx context.Context, roundID uuid.UUID) (int64, error)
}

// EnabledChecker answers whether the catalog currently lists the game as live.
type EnabledChecker interface {
	CrashEnabled(ctx context.Context) (bool, error)
}

type Contact struct {
	Email string
	Phone string
}

// UserDirectory resolves the contact details used for masked labels.
// A missing user is reported as (nil, nil).
type UserDirectory interface {
	Contact(ctx context.Context, userID uuid.UUID) (*Contact, error)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
