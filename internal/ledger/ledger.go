// Package ledger is the only mutator of wallet balances. Every balance change is
// paired with an immutable entry so a wallet can always be rebuilt from its
// entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryCredit EntryType = "Credit"
	EntryDebit  EntryType = "Debit"
)

const (
	DEFAULT_CURRENCY = "INR"
	// MONEY_SCALE is the number of decimal places a stored amount keeps.
	MONEY_SCALE = 2
)

var (
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrAmountScale       = errors.New("amount must have at most 2 decimal places")
	ErrNegativeBalance   = errors.New("ledger replay went negative")
)

type Wallet struct {
	ID       uuid.UUID       `json:"id"`
	UserID   uuid.UUID       `json:"user_id"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}

type Entry struct {
	ID           uuid.UUID       `json:"id"`
	WalletID     uuid.UUID       `json:"wallet_id"`
	Type         EntryType       `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Reason       string          `json:"reason"`
	Reference    string          `json:"reference"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Accounts is the wallet side of a unit of work. LockWallet must return the
// wallet row locked for the rest of the transaction, creating an empty wallet
// the first time a user is touched.
type Accounts interface {
	LockWallet(ctx context.Context, userID uuid.UUID) (*Wallet, error)
	SetBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error
	AppendEntry(ctx context.Context, entry *Entry) error
}

// Credit adds amount to the user's wallet and records the entry.
func Credit(ctx context.Context, accounts Accounts, userID uuid.UUID, amount decimal.Decimal, reason, reference string) (*Entry, *Wallet, error) {
	return apply(ctx, accounts, userID, EntryCredit, amount, reason, reference)
}

// Debit removes amount from the user's wallet. It fails with
// ErrInsufficientFunds, leaving the wallet untouched, when the balance is short.
func Debit(ctx context.Context, accounts Accounts, userID uuid.UUID, amount decimal.Decimal, reason, reference string) (*Entry, *Wallet, error) {
	return apply(ctx, accounts, userID, EntryDebit, amount, reason, reference)
}

// ValidateAmount accepts positive amounts that fit the stored scale exactly.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(MONEY_SCALE)) {
		return ErrAmountScale
	}
	return nil
}

func apply(ctx context.Context, accounts Accounts, userID uuid.UUID, kind EntryType, amount decimal.Decimal, reason, reference string) (*Entry, *Wallet, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, nil, err
	}

	wallet, err := accounts.LockWallet(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock wallet: %w", err)
	}

	next := wallet.Balance.Add(amount)
	if kind == EntryDebit {
		if wallet.Balance.LessThan(amount) {
			return nil, wallet, ErrInsufficientFunds
		}
		next = wallet.Balance.Sub(amount)
	}

	entry := &Entry{
		ID:           uuid.New(),
		WalletID:     wallet.ID,
		Type:         kind,
		Amount:       amount,
		BalanceAfter: next,
		Reason:       reason,
		Reference:    reference,
		CreatedAt:    time.Now().UTC(),
	}

	if err := accounts.SetBalance(ctx, wallet.ID, next); err != nil {
		return nil, nil, fmt.Errorf("set balance: %w", err)
	}
	if err := accounts.AppendEntry(ctx, entry); err != nil {
		return nil, nil, fmt.Errorf("append entry: %w", err)
	}

	wallet.Balance = next
	return entry, wallet, nil
}

// Balance replays entries in order and returns the derived balance. It fails if
// the running sum ever dips below zero or disagrees with a recorded BalanceAfter.
func Balance(entries []Entry) (decimal.Decimal, error) {
	sum := decimal.Zero
	for i, e := range entries {
		switch e.Type {
		case EntryCredit:
			sum = sum.Add(e.Amount)
		case EntryDebit:
			sum = sum.Sub(e.Amount)
		default:
			return decimal.Zero, fmt.Errorf("entry %d: unknown type %q", i, e.Type)
		}
		if sum.IsNegative() {
			return decimal.Zero, fmt.Errorf("entry %d: %w", i, ErrNegativeBalance)
		}
		if !sum.Equal(e.BalanceAfter) {
			return decimal.Zero, fmt.Errorf("entry %d: running balance %s, recorded %s", i, sum, e.BalanceAfter)
		}
	}
	return sum, nil
}
