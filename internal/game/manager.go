package game

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashgame/internal/ledger"
	"crashgame/internal/metrics"
)

const (
	TICK_INTERVAL    = 100 * time.Millisecond
	WAITING_DURATION = 5 * time.Second
	REVEAL_DELAY     = 5 * time.Second
	DISABLED_POLL    = 5 * time.Second
	RETRY_BACKOFF    = 2 * time.Second
	STORE_TIMEOUT    = 5 * time.Second
	// CRASH_WRITE_ATTEMPTS bounds how often the crash write is tried before
	// the round is handed to recovery.
	CRASH_WRITE_ATTEMPTS = 3
	GROWTH_RATE      = 0.12
	CLIENT_SEED      = "lotterybig"

	DISABLED_MESSAGE = "Crash game is currently disabled"
)

// Settings tunes the round cycle.
type Settings struct {
	WaitingDuration time.Duration
	TickInterval    time.Duration
	RevealDelay     time.Duration
	DisabledPoll    time.Duration
	RetryBackoff    time.Duration
	StoreTimeout    time.Duration
	GrowthRate      float64
	ClientSeed      string
}

func DefaultSettings() Settings {
	return Settings{
		WaitingDuration: WAITING_DURATION,
		TickInterval:    TICK_INTERVAL,
		RevealDelay:     REVEAL_DELAY,
		DisabledPoll:    DISABLED_POLL,
		RetryBackoff:    RETRY_BACKOFF,
		StoreTimeout:    STORE_TIMEOUT,
		GrowthRate:      GROWTH_RATE,
		ClientSeed:      CLIENT_SEED,
	}
}

// Manager is the round scheduler. It is the only writer of round phases and of
// the live multiplier, and it must run as a single instance per deployment.
type Manager struct {
	store    Store
	state    *SharedState
	hub      *Hub
	oracle   Oracle
	enabled  EnabledChecker
	gateway  *Gateway
	metrics  *metrics.Metrics
	settings Settings

	nonce       int64
	roundNumber int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

func NewManager(store Store, state *SharedState, hub *Hub, oracle Oracle, enabled EnabledChecker, gateway *Gateway, m *metrics.Metrics, settings Settings) *Manager {
	return &Manager{
		store:    store,
		state:    state,
		hub:      hub,
		oracle:   oracle,
		enabled:  enabled,
		gateway:  gateway,
		metrics:  m,
		settings: settings,
	}
}

// Init reads the last persisted round so numbering and nonces continue where
// they stopped, then voids whatever round a previous process left open.
// A failure here is fatal to startup.
func (m *Manager) Init(ctx context.Context) error {
	last, err := m.store.LastRound(ctx)
	if err != nil {
		return fmt.Errorf("load last round: %w", err)
	}
	if last != nil {
		m.roundNumber = last.Number
		m.nonce = last.Nonce
	}
	log.Printf("[GAME] Resuming after round %d (nonce %d)", m.roundNumber, m.nonce)

	if _, err := m.recoverStaleRounds(ctx, uuid.Nil); err != nil {
		return fmt.Errorf("recover stale rounds: %w", err)
	}
	return nil
}

func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopped = make(chan struct{})
	go func() {
		defer close(m.stopped)
		m.Run(runCtx)
	}()
}

// Stop cancels the loop and waits for the in-flight store write to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, stopped := m.cancel, m.stopped
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

// Run drives rounds until ctx is cancelled. A failed round is logged, its
// leftovers are closed and the loop continues after a backoff. A round the
// players already saw crash is settled as crashed, anything else is voided.
func (m *Manager) Run(ctx context.Context) {
	log.Println("[GAME] Round loop started")
	for {
		if ctx.Err() != nil {
			log.Println("[GAME] Round loop stopped")
			return
		}

		err := m.safeRunRound(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			log.Println("[GAME] Round loop stopped")
			return
		}

		m.metrics.RoundFailures.Inc(1)
		log.Printf("[GAME] Round failed: %v", err)

		var crashed uuid.UUID
		if snap := m.state.Snapshot(); snap.Phase == PhaseCrashed {
			crashed = snap.RoundID
		}

		storeCtx, cancel := m.storeContext(ctx)
		if _, rerr := m.recoverStaleRounds(storeCtx, crashed); rerr != nil {
			log.Printf("[GAME] Recovery failed: %v", rerr)
		}
		cancel()

		if err := sleepWithContext(ctx, m.settings.RetryBackoff); err != nil {
			log.Println("[GAME] Round loop stopped")
			return
		}
	}
}

func (m *Manager) safeRunRound(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return m.runRound(ctx)
}

func (m *Manager) runRound(ctx context.Context) error {
	enabled, err := m.checkEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		retryAt := nowUTC().Add(m.settings.DisabledPoll)
		m.state.SetDisabled(retryAt)
		m.metrics.DisabledChecks.Inc(1)
		m.hub.Broadcast(Event{
			Type: EVENT_GAME_DISABLED,
			Data: GameDisabledMessage{Message: DISABLED_MESSAGE},
		})
		return sleepWithContext(ctx, m.settings.DisabledPoll)
	}

	round, err := m.openRound(ctx)
	if err != nil {
		return err
	}
	if err := sleepWithContext(ctx, m.settings.WaitingDuration); err != nil {
		return err
	}

	startedAt, err := m.startRound(ctx, round)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(m.settings.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if m.tick(ctx, round, startedAt) {
			break
		}
	}

	if err := m.crashRound(ctx, round); err != nil {
		return err
	}
	return sleepWithContext(ctx, m.settings.RevealDelay)
}

func (m *Manager) checkEnabled(ctx context.Context) (bool, error) {
	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()
	enabled, err := m.enabled.CrashEnabled(storeCtx)
	if err != nil {
		return false, fmt.Errorf("check game enabled: %w", err)
	}
	return enabled, nil
}

// openRound commits to a fresh seed and persists the round as Waiting. The
// counters advance before the insert so a failed insert never reuses a nonce.
func (m *Manager) openRound(ctx context.Context) (*Round, error) {
	seed, hash, err := m.oracle.Commit()
	if err != nil {
		return nil, err
	}
	m.nonce++
	m.roundNumber++

	round := &Round{
		ID:              uuid.New(),
		Number:          m.roundNumber,
		Status:          RoundWaiting,
		ServerSeed:      seed,
		ServerSeedHash:  hash,
		ClientSeed:      m.settings.ClientSeed,
		Nonce:           m.nonce,
		CrashMultiplier: m.oracle.CrashPoint(seed, m.settings.ClientSeed, m.nonce),
		HouseEdge:       m.oracle.Edge(),
		CreatedAt:       nowUTC(),
	}

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()
	err = m.store.InTx(storeCtx, func(tx Tx) error {
		return tx.InsertRound(storeCtx, round)
	})
	if err != nil {
		return nil, fmt.Errorf("insert round %d: %w", round.Number, err)
	}

	nextRoundAt := round.CreatedAt.Add(m.settings.WaitingDuration)
	m.state.OpenRound(round.ID, round.Number, nextRoundAt)
	m.hub.Broadcast(Event{
		Type: EVENT_ROUND_WAITING,
		Data: RoundWaitingMessage{
			RoundID:        round.ID,
			RoundNumber:    round.Number,
			NextRoundAt:    nextRoundAt,
			ServerSeedHash: round.ServerSeedHash,
		},
	})

	log.Printf("\n=== ROUND %d ===", round.Number)
	log.Printf("[FAIR] Commitment: %s...", shortHash(round.ServerSeedHash))
	return round, nil
}

func (m *Manager) startRound(ctx context.Context, round *Round) (time.Time, error) {
	startedAt := nowUTC()

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()
	err := m.store.InTx(storeCtx, func(tx Tx) error {
		current, err := tx.LockRound(storeCtx, round.ID)
		if err != nil {
			return err
		}
		if current.Status != RoundWaiting {
			return fmt.Errorf("round %d is %s, expected %s", current.Number, current.Status, RoundWaiting)
		}
		current.Status = RoundInProgress
		current.StartedAt = &startedAt
		return tx.UpdateRound(storeCtx, current)
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("start round %d: %w", round.Number, err)
	}

	round.Status = RoundInProgress
	round.StartedAt = &startedAt
	m.state.StartRound(startedAt)
	m.metrics.RoundsStarted.Inc(1)
	m.hub.Broadcast(Event{
		Type: EVENT_ROUND_STARTED,
		Data: RoundStartedMessage{
			RoundID:     round.ID,
			RoundNumber: round.Number,
			StartedAt:   startedAt,
		},
	})

	log.Printf("[GAME] Round %d in progress", round.Number)
	return startedAt, nil
}

// tick advances the live multiplier. It reports true once the crash point
// has been reached.
func (m *Manager) tick(ctx context.Context, round *Round, startedAt time.Time) bool {
	defer m.metrics.TickDuration.UpdateSince(time.Now())

	multiplier := LiveMultiplier(m.settings.GrowthRate, time.Since(startedAt).Seconds())
	if multiplier.GreaterThanOrEqual(round.CrashMultiplier) {
		return true
	}

	m.state.SetMultiplier(multiplier)
	m.hub.Broadcast(Event{
		Type: EVENT_MULTIPLIER,
		Data: MultiplierMessage{RoundID: round.ID, Multiplier: multiplier},
	})

	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()
	if n, err := m.gateway.AutoCashout(storeCtx, round.ID, multiplier); err != nil {
		log.Printf("[CASHOUT] Auto cashout sweep at %sx failed: %v", multiplier.StringFixed(2), err)
	} else if n > 0 {
		log.Printf("[CASHOUT] Auto cashed out %d bet(s) at %sx", n, multiplier.StringFixed(2))
	}
	return false
}

// crashRound closes the round at its precomputed multiplier and forfeits
// every bet still Active. The shared state flips first so no cashout is
// accepted past the crash. The write is retried before the round is handed to
// recovery.
func (m *Manager) crashRound(ctx context.Context, round *Round) error {
	m.state.Crash(round.CrashMultiplier)
	endedAt := nowUTC()

	var (
		lost int64
		err  error
	)
	for attempt := 1; attempt <= CRASH_WRITE_ATTEMPTS; attempt++ {
		lost, err = m.writeCrash(ctx, round, endedAt)
		if err == nil {
			break
		}
		log.Printf("[GAME] Crash write for round %d failed (attempt %d/%d): %v", round.Number, attempt, CRASH_WRITE_ATTEMPTS, err)
		if attempt < CRASH_WRITE_ATTEMPTS {
			time.Sleep(m.settings.TickInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("crash round %d: %w", round.Number, err)
	}

	round.Status = RoundCrashed
	round.EndedAt = &endedAt
	m.announceCrash(round, lost)
	return nil
}

func (m *Manager) writeCrash(ctx context.Context, round *Round, endedAt time.Time) (int64, error) {
	storeCtx, cancel := m.storeContext(ctx)
	defer cancel()

	var lost int64
	err := m.store.InTx(storeCtx, func(tx Tx) error {
		current, err := tx.LockRound(storeCtx, round.ID)
		if err != nil {
			return err
		}
		lost, err = forfeitRound(storeCtx, tx, current, endedAt)
		return err
	})
	return lost, err
}

// forfeitRound marks the round Crashed and moves its Active bets to Lost.
func forfeitRound(ctx context.Context, tx Tx, round *Round, endedAt time.Time) (int64, error) {
	round.Status = RoundCrashed
	round.EndedAt = &endedAt
	if err := tx.UpdateRound(ctx, round); err != nil {
		return 0, err
	}
	return tx.ForfeitActiveBets(ctx, round.ID)
}

func (m *Manager) announceCrash(round *Round, lost int64) {
	m.metrics.RoundsCrashed.Inc(1)
	m.metrics.BetsLost.Inc(lost)
	m.metrics.CrashPoints.Update(metrics.Cents(round.CrashMultiplier))

	m.hub.Broadcast(Event{
		Type: EVENT_ROUND_CRASHED,
		Data: RoundCrashedMessage{
			RoundID:         round.ID,
			RoundNumber:     round.Number,
			CrashMultiplier: round.CrashMultiplier,
			ServerSeed:      round.ServerSeed,
			ServerSeedHash:  round.ServerSeedHash,
		},
	})

	log.Printf("=== ROUND %d CRASHED at %sx (%d lost) ===", round.Number, round.CrashMultiplier.StringFixed(2), lost)
}

// recoverStaleRounds closes every round that never reached Crashed. The round
// named by crashed already crashed in front of the players, so its Active bets
// are forfeited and the seed is revealed. Every other round is voided: Active
// stakes are refunded through the ledger and the bets closed as Lost with no
// winnings, so a failed round never strands money.
func (m *Manager) recoverStaleRounds(ctx context.Context, crashed uuid.UUID) (int, error) {
	type closedRound struct {
		round   Round
		lost    int64
		crashed bool
	}

	var closed []closedRound
	err := m.store.InTx(ctx, func(tx Tx) error {
		closed = closed[:0]

		rounds, err := tx.OpenRounds(ctx)
		if err != nil {
			return err
		}
		for i := range rounds {
			r := &rounds[i]
			if r.ID == crashed && r.Status == RoundInProgress {
				lost, err := forfeitRound(ctx, tx, r, nowUTC())
				if err != nil {
					return err
				}
				closed = append(closed, closedRound{round: *r, lost: lost, crashed: true})
				continue
			}
			if err := voidRound(ctx, tx, r); err != nil {
				return err
			}
			closed = append(closed, closedRound{round: *r})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, c := range closed {
		if c.crashed {
			m.announceCrash(&c.round, c.lost)
			continue
		}
		m.metrics.RoundsVoided.Inc(1)
		log.Printf("[GAME] Voided round %d", c.round.Number)
	}
	return len(closed), nil
}

func voidRound(ctx context.Context, tx Tx, round *Round) error {
	bets, err := tx.ActiveBets(ctx, round.ID)
	if err != nil {
		return err
	}
	for _, bet := range bets {
		next := bet
		next.Status = BetLost
		next.WinAmount = decimal.Zero

		moved, err := tx.TransitionBet(ctx, &next)
		if err != nil {
			return err
		}
		if !moved {
			continue
		}
		if _, _, err := ledger.Credit(ctx, tx, bet.UserID, bet.Amount, REASON_VOID_REFUND, betReference(bet.ID)); err != nil {
			return fmt.Errorf("refund bet %s: %w", bet.ID, err)
		}
	}

	endedAt := nowUTC()
	round.Status = RoundCrashed
	round.EndedAt = &endedAt
	return tx.UpdateRound(ctx, round)
}

// storeContext bounds a store call without inheriting cancellation, so a
// shutdown lets the in-flight write complete.
func (m *Manager) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.settings.StoreTimeout)
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
