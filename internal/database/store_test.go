package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashgame/internal/game"
	"crashgame/internal/ledger"
	"crashgame/internal/metrics"
)

type storeFixture struct {
	store   *Store
	catalog *Catalog
	state   *game.SharedState
	gateway *game.Gateway
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	pool := New().Pool()

	store := NewStore(pool)
	catalog := NewCatalog(pool, "Crash Multiplier")
	state := game.NewSharedState()
	hub := game.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	return &storeFixture{
		store:   store,
		catalog: catalog,
		state:   state,
		gateway: game.NewGateway(store, state, hub, catalog, NewUsers(pool), metrics.New(), game.GatewayOptions{}),
	}
}

func (f *storeFixture) insertRound(t *testing.T, crash string) *game.Round {
	t.Helper()
	ctx := context.Background()

	var next int64 = 1
	last, err := f.store.LastRound(ctx)
	if err != nil {
		t.Fatalf("LastRound() error = %v", err)
	}
	if last != nil {
		next = last.Number + 1
	}

	seed, hash, err := game.NewProvablyFair(game.HOUSE_EDGE).Commit()
	if err != nil {
		t.Fatal(err)
	}
	round := &game.Round{
		ID:              uuid.New(),
		Number:          next,
		Status:          game.RoundWaiting,
		ServerSeed:      seed,
		ServerSeedHash:  hash,
		ClientSeed:      game.CLIENT_SEED,
		Nonce:           next,
		CrashMultiplier: decimal.RequireFromString(crash),
		HouseEdge:       game.HOUSE_EDGE,
		CreatedAt:       time.Now().UTC(),
	}
	if err := f.store.InTx(ctx, func(tx game.Tx) error { return tx.InsertRound(ctx, round) }); err != nil {
		t.Fatalf("InsertRound() error = %v", err)
	}
	f.state.OpenRound(round.ID, round.Number, time.Now().Add(time.Second))
	return round
}

func (f *storeFixture) setStatus(t *testing.T, round *game.Round, status game.RoundStatus) {
	t.Helper()
	ctx := context.Background()
	err := f.store.InTx(ctx, func(tx game.Tx) error {
		r, err := tx.LockRound(ctx, round.ID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		r.Status = status
		switch status {
		case game.RoundInProgress:
			r.StartedAt = &now
		case game.RoundCrashed:
			r.EndedAt = &now
		}
		return tx.UpdateRound(ctx, r)
	})
	if err != nil {
		t.Fatalf("UpdateRound() error = %v", err)
	}
}

func TestStore_RoundLifecycle(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	round := f.insertRound(t, "2.37")

	got, err := f.store.Round(ctx, round.ID)
	if err != nil {
		t.Fatalf("Round() error = %v", err)
	}
	if got.Status != game.RoundWaiting || !got.CrashMultiplier.Equal(decimal.RequireFromString("2.37")) {
		t.Errorf("Round() = %+v", got)
	}
	if got.StartedAt != nil || got.EndedAt != nil {
		t.Error("new round should have no start or end time")
	}
	if !got.HouseEdge.Equal(game.HOUSE_EDGE) {
		t.Errorf("HouseEdge = %s, want %s", got.HouseEdge, game.HOUSE_EDGE)
	}

	f.setStatus(t, round, game.RoundInProgress)
	f.setStatus(t, round, game.RoundCrashed)

	last, err := f.store.LastRound(ctx)
	if err != nil || last.ID != round.ID {
		t.Fatalf("LastRound() = %+v, %v", last, err)
	}

	history, err := f.store.RecentCrashes(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCrashes() error = %v", err)
	}
	if len(history) == 0 || history[0].RoundID != round.ID {
		t.Errorf("RecentCrashes() = %+v, want newest first", history)
	}

	if _, err := f.store.Round(ctx, uuid.New()); !errors.Is(err, game.ErrRoundNotFound) {
		t.Errorf("Round() unknown error = %v", err)
	}
}

func TestStore_DuplicateNonceRejected(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	round := f.insertRound(t, "1.50")

	dup := *round
	dup.ID = uuid.New()
	dup.Number = round.Number + 1000
	err := f.store.InTx(ctx, func(tx game.Tx) error { return tx.InsertRound(ctx, &dup) })
	if err == nil {
		t.Fatal("InsertRound() accepted a reused nonce")
	}
}

func TestStore_BetLifecycleAndReplay(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	user := uuid.New()

	if _, err := f.gateway.Topup(ctx, user, decimal.NewFromInt(200), "seed"); err != nil {
		t.Fatalf("Topup() error = %v", err)
	}
	round := f.insertRound(t, "3.00")

	bet, err := f.gateway.PlaceBet(ctx, game.BetRequest{UserID: user, Amount: decimal.NewFromInt(80)})
	if err != nil {
		t.Fatalf("PlaceBet() error = %v", err)
	}
	if !bet.Balance.Equal(decimal.NewFromInt(120)) {
		t.Errorf("Balance = %s, want 120", bet.Balance)
	}

	_, err = f.gateway.PlaceBet(ctx, game.BetRequest{UserID: user, Amount: decimal.NewFromInt(500)})
	if !errors.Is(err, game.ErrInsufficientFunds) {
		t.Fatalf("PlaceBet() error = %v, want ErrInsufficientFunds", err)
	}

	f.setStatus(t, round, game.RoundInProgress)
	f.state.StartRound(time.Now())
	f.state.SetMultiplier(decimal.RequireFromString("1.25"))

	resp, err := f.gateway.Cashout(ctx, game.CashoutRequest{UserID: user, BetID: bet.BetID})
	if err != nil {
		t.Fatalf("Cashout() error = %v", err)
	}
	if !resp.WinAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("WinAmount = %s, want 100", resp.WinAmount)
	}

	entries, err := f.store.Entries(ctx, user, 50)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Entries() = %d, want 3", len(entries))
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	replayed, err := ledger.Balance(entries)
	if err != nil {
		t.Fatalf("ledger.Balance() error = %v", err)
	}
	w, _ := f.store.Wallet(ctx, user)
	if !w.Balance.Equal(replayed) || !w.Balance.Equal(decimal.NewFromInt(220)) {
		t.Errorf("wallet %s, replay %s, want 220", w.Balance, replayed)
	}
}

// Concurrent cashouts of one bet against Postgres settle it exactly once.
func TestStore_ConcurrentCashouts(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	user := uuid.New()

	if _, err := f.gateway.Topup(ctx, user, decimal.NewFromInt(100), "seed"); err != nil {
		t.Fatal(err)
	}
	round := f.insertRound(t, "5.00")
	bet, err := f.gateway.PlaceBet(ctx, game.BetRequest{UserID: user, Amount: decimal.NewFromInt(100)})
	if err != nil {
		t.Fatal(err)
	}
	f.setStatus(t, round, game.RoundInProgress)
	f.state.StartRound(time.Now())
	f.state.SetMultiplier(decimal.RequireFromString("1.50"))

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gateway.Cashout(ctx, game.CashoutRequest{UserID: user, BetID: bet.BetID})
			if err != nil {
				if kind := game.KindOf(err); kind != game.KindNotFound && kind != game.KindConflict {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			successes++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	w, _ := f.store.Wallet(ctx, user)
	if !w.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("balance = %s, want 150", w.Balance)
	}
}

func TestStore_ForfeitAndTransitionAreGated(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	user := uuid.New()

	if _, err := f.gateway.Topup(ctx, user, decimal.NewFromInt(20), "seed"); err != nil {
		t.Fatal(err)
	}
	round := f.insertRound(t, "1.30")
	bet, err := f.gateway.PlaceBet(ctx, game.BetRequest{UserID: user, Amount: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatal(err)
	}

	var lost int64
	err = f.store.InTx(ctx, func(tx game.Tx) error {
		var err error
		lost, err = tx.ForfeitActiveBets(ctx, round.ID)
		return err
	})
	if err != nil || lost != 1 {
		t.Fatalf("ForfeitActiveBets() = %d, %v; want 1", lost, err)
	}

	err = f.store.InTx(ctx, func(tx game.Tx) error {
		moved, err := tx.TransitionBet(ctx, &game.Bet{ID: bet.BetID, Status: game.BetCashedOut, WinAmount: decimal.NewFromInt(13)})
		if err != nil {
			return err
		}
		if moved {
			t.Error("TransitionBet() moved a terminal bet")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCatalog_CrashEnabled(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()

	enabled, err := f.catalog.CrashEnabled(ctx)
	if err != nil || !enabled {
		t.Fatalf("CrashEnabled() = %v, %v; want seeded Active", enabled, err)
	}

	if err := f.catalog.SetStatus(ctx, GAME_STATUS_DISABLED); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.catalog.SetStatus(context.Background(), GAME_STATUS_ACTIVE) })

	if enabled, _ := f.catalog.CrashEnabled(ctx); enabled {
		t.Error("CrashEnabled() = true after disabling")
	}

	missing := NewCatalog(New().Pool(), "No Such Game")
	if enabled, err := missing.CrashEnabled(ctx); err != nil || enabled {
		t.Errorf("CrashEnabled() for unknown game = %v, %v", enabled, err)
	}
}

func TestUsers_Contact(t *testing.T) {
	ctx := context.Background()
	pool := New().Pool()
	users := NewUsers(pool)

	id := uuid.New()
	if _, err := pool.Exec(ctx, `INSERT INTO users (id, email) VALUES ($1, $2)`, id, "carol@example.com"); err != nil {
		t.Fatal(err)
	}

	c, err := users.Contact(ctx, id)
	if err != nil || c == nil || c.Email != "carol@example.com" || c.Phone != "" {
		t.Fatalf("Contact() = %+v, %v", c, err)
	}

	if c, err := users.Contact(ctx, uuid.New()); err != nil || c != nil {
		t.Errorf("Contact() for unknown user = %+v, %v", c, err)
	}
}
