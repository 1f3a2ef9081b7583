// Package memory keeps rounds, bets and wallets in process. Units of work are
// serialized behind one mutex and rolled back from an undo log, which gives the
// same all-or-nothing behaviour as the Postgres store without a database.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashgame/internal/game"
	"crashgame/internal/ledger"
)

type Store struct {
	mu sync.Mutex

	rounds     map[uuid.UUID]*game.Round
	roundOrder []uuid.UUID
	bets       map[uuid.UUID]*game.Bet
	betOrder   []uuid.UUID
	wallets    map[uuid.UUID]*ledger.Wallet // by user
	entries    map[uuid.UUID][]ledger.Entry // by wallet

	failNext error

	flagMu  sync.RWMutex
	enabled bool
	users   map[uuid.UUID]game.Contact
}

func New() *Store {
	return &Store{
		rounds:  make(map[uuid.UUID]*game.Round),
		bets:    make(map[uuid.UUID]*game.Bet),
		wallets: make(map[uuid.UUID]*ledger.Wallet),
		entries: make(map[uuid.UUID][]ledger.Entry),
		enabled: true,
		users:   make(map[uuid.UUID]game.Contact),
	}
}

// FailNext makes the next unit of work fail with err before running.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err, s.failNext = s.failNext, nil
		return err
	}

	tx := &memTx{s: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()
	return fn(tx)
}

func (s *Store) LastRound(ctx context.Context) (*game.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *game.Round
	for _, r := range s.rounds {
		if last == nil || r.Number > last.Number {
			last = r
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (s *Store) Round(ctx context.Context, id uuid.UUID) (*game.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[id]
	if !ok {
		return nil, game.ErrRoundNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) RecentCrashes(ctx context.Context, limit int) ([]game.CrashHistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]game.CrashHistoryItem, 0, limit)
	for i := len(s.roundOrder) - 1; i >= 0 && len(items) < limit; i-- {
		r := s.rounds[s.roundOrder[i]]
		if r.Status != game.RoundCrashed || r.EndedAt == nil {
			continue
		}
		items = append(items, game.CrashHistoryItem{
			RoundID:         r.ID,
			CrashMultiplier: r.CrashMultiplier,
			EndedAt:         *r.EndedAt,
		})
	}
	return items, nil
}

// RoundBets returns the round's bets newest first.
func (s *Store) RoundBets(ctx context.Context, roundID uuid.UUID) ([]game.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bets []game.Bet
	for i := len(s.betOrder) - 1; i >= 0; i-- {
		b := s.bets[s.betOrder[i]]
		if b.RoundID == roundID {
			bets = append(bets, *b)
		}
	}
	return bets, nil
}

func (s *Store) Wallet(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return &ledger.Wallet{UserID: userID, Currency: ledger.DEFAULT_CURRENCY, Balance: decimal.Zero}, nil
	}
	cp := *w
	return &cp, nil
}

// Entries returns the latest entries of the user's wallet, newest first.
func (s *Store) Entries(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Entry, error) {
	all := s.History(userID)
	out := make([]ledger.Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// History returns every entry of the user's wallet in the order it was written.
func (s *Store) History(userID uuid.UUID) []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil
	}
	return append([]ledger.Entry(nil), s.entries[w.ID]...)
}

// Bet returns a copy of a stored bet.
func (s *Store) Bet(id uuid.UUID) (game.Bet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[id]
	if !ok {
		return game.Bet{}, false
	}
	return *b, true
}

// SetEnabled flips the catalog flag read by CrashEnabled.
func (s *Store) SetEnabled(enabled bool) {
	s.flagMu.Lock()
	s.enabled = enabled
	s.flagMu.Unlock()
}

func (s *Store) CrashEnabled(ctx context.Context) (bool, error) {
	s.flagMu.RLock()
	defer s.flagMu.RUnlock()
	return s.enabled, nil
}

func (s *Store) AddUser(id uuid.UUID, contact game.Contact) {
	s.flagMu.Lock()
	s.users[id] = contact
	s.flagMu.Unlock()
}

func (s *Store) Contact(ctx context.Context, userID uuid.UUID) (*game.Contact, error) {
	s.flagMu.RLock()
	defer s.flagMu.RUnlock()

	c, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// memTx runs with the store mutex held. Every mutation records its inverse.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockWallet(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	w, ok := t.s.wallets[userID]
	if !ok {
		w = &ledger.Wallet{
			ID:       uuid.New(),
			UserID:   userID,
			Currency: ledger.DEFAULT_CURRENCY,
			Balance:  decimal.Zero,
		}
		t.s.wallets[userID] = w
		t.undo = append(t.undo, func() { delete(t.s.wallets, userID) })
	}
	cp := *w
	return &cp, nil
}

func (t *memTx) SetBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("wallet %s: %w", walletID, ledger.ErrNegativeBalance)
	}
	for _, w := range t.s.wallets {
		if w.ID != walletID {
			continue
		}
		prev := w.Balance
		w.Balance = balance
		t.undo = append(t.undo, func() { w.Balance = prev })
		return nil
	}
	return fmt.Errorf("wallet %s not found", walletID)
}

func (t *memTx) AppendEntry(ctx context.Context, entry *ledger.Entry) error {
	prev := t.s.entries[entry.WalletID]
	t.s.entries[entry.WalletID] = append(prev[:len(prev):len(prev)], *entry)
	t.undo = append(t.undo, func() { t.s.entries[entry.WalletID] = prev })
	return nil
}

func (t *memTx) InsertRound(ctx context.Context, round *game.Round) error {
	if _, ok := t.s.rounds[round.ID]; ok {
		return fmt.Errorf("round %s already exists", round.ID)
	}
	for _, r := range t.s.rounds {
		if r.Number == round.Number || r.Nonce == round.Nonce {
			return fmt.Errorf("round number %d or nonce %d already used", round.Number, round.Nonce)
		}
	}

	cp := *round
	t.s.rounds[round.ID] = &cp
	t.s.roundOrder = append(t.s.roundOrder, round.ID)
	t.undo = append(t.undo, func() {
		delete(t.s.rounds, round.ID)
		t.s.roundOrder = t.s.roundOrder[:len(t.s.roundOrder)-1]
	})
	return nil
}

func (t *memTx) LockRound(ctx context.Context, id uuid.UUID) (*game.Round, error) {
	return t.ReadRound(ctx, id)
}

func (t *memTx) ReadRound(ctx context.Context, id uuid.UUID) (*game.Round, error) {
	r, ok := t.s.rounds[id]
	if !ok {
		return nil, game.ErrRoundNotFound
	}
	cp := *r
	return &cp, nil
}

func (t *memTx) UpdateRound(ctx context.Context, round *game.Round) error {
	r, ok := t.s.rounds[round.ID]
	if !ok {
		return game.ErrRoundNotFound
	}
	prev := *r
	*r = *round
	t.undo = append(t.undo, func() { *r = prev })
	return nil
}

func (t *memTx) OpenRounds(ctx context.Context) ([]game.Round, error) {
	var open []game.Round
	for _, id := range t.s.roundOrder {
		if r := t.s.rounds[id]; r.Status != game.RoundCrashed {
			open = append(open, *r)
		}
	}
	return open, nil
}

func (t *memTx) InsertBet(ctx context.Context, bet *game.Bet) error {
	if _, ok := t.s.bets[bet.ID]; ok {
		return fmt.Errorf("bet %s already exists", bet.ID)
	}
	cp := *bet
	t.s.bets[bet.ID] = &cp
	t.s.betOrder = append(t.s.betOrder, bet.ID)
	t.undo = append(t.undo, func() {
		delete(t.s.bets, bet.ID)
		t.s.betOrder = t.s.betOrder[:len(t.s.betOrder)-1]
	})
	return nil
}

func (t *memTx) LockBet(ctx context.Context, id uuid.UUID) (*game.Bet, error) {
	b, ok := t.s.bets[id]
	if !ok {
		return nil, game.ErrBetNotFound
	}
	cp := *b
	return &cp, nil
}

func (t *memTx) CountActiveBets(ctx context.Context, roundID, userID uuid.UUID) (int, error) {
	n := 0
	for _, b := range t.s.bets {
		if b.RoundID == roundID && b.UserID == userID && b.Status == game.BetActive {
			n++
		}
	}
	return n, nil
}

func (t *memTx) ActiveBets(ctx context.Context, roundID uuid.UUID) ([]game.Bet, error) {
	return t.filterBets(roundID, func(b *game.Bet) bool { return b.Status == game.BetActive }), nil
}

func (t *memTx) AutoCashoutCandidates(ctx context.Context, roundID uuid.UUID, multiplier decimal.Decimal) ([]game.Bet, error) {
	return t.filterBets(roundID, func(b *game.Bet) bool {
		return b.Status == game.BetActive &&
			b.TargetMultiplier.Valid &&
			b.TargetMultiplier.Decimal.LessThanOrEqual(multiplier)
	}), nil
}

// filterBets walks bets in insertion order so sweeps settle oldest first.
func (t *memTx) filterBets(roundID uuid.UUID, keep func(*game.Bet) bool) []game.Bet {
	var out []game.Bet
	for _, id := range t.s.betOrder {
		b := t.s.bets[id]
		if b.RoundID == roundID && keep(b) {
			out = append(out, *b)
		}
	}
	return out
}

func (t *memTx) TransitionBet(ctx context.Context, bet *game.Bet) (bool, error) {
	b, ok := t.s.bets[bet.ID]
	if !ok || b.Status != game.BetActive {
		return false, nil
	}
	prev := *b
	b.Status = bet.Status
	b.CashoutMultiplier = bet.CashoutMultiplier
	b.WinAmount = bet.WinAmount
	b.CashedOutAt = bet.CashedOutAt
	t.undo = append(t.undo, func() { *b = prev })
	return true, nil
}

func (t *memTx) ForfeitActiveBets(ctx context.Context, roundID uuid.UUID) (int64, error) {
	var n int64
	for _, b := range t.filterBets(roundID, func(b *game.Bet) bool { return b.Status == game.BetActive }) {
		moved, err := t.TransitionBet(ctx, &game.Bet{ID: b.ID, Status: game.BetLost, WinAmount: decimal.Zero})
		if err != nil {
			return n, err
		}
		if moved {
			n++
		}
	}
	return n, nil
}
