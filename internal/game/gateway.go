package game

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"

	"crashgame/internal/ledger"
	"crashgame/internal/metrics"
)

const (
	MAX_ACTIVE_BETS     = 2
	HISTORY_LIMIT       = 10
	TRANSACTIONS_LIMIT  = 50
	LABEL_CACHE_SIZE    = 4096
	REASON_BET          = "Crash bet"
	REASON_CASHOUT      = "Crash cashout"
	REASON_AUTO_CASHOUT = "Crash auto cashout"
	REASON_VOID_REFUND  = "Crash round voided"
	REASON_TOPUP        = "Topup"
	REASON_WITHDRAWAL   = "Withdrawal"
)

// Gateway executes player actions against the shared round state, the ledger
// and the round store. Manual and automatic cashouts share settle.
type Gateway struct {
	store         Store
	state         *SharedState
	hub           *Hub
	enabled       EnabledChecker
	users         UserDirectory
	labels        *lru.Cache
	metrics       *metrics.Metrics
	houseEdge     decimal.Decimal
	maxActiveBets int
	historyLimit  int
}

type GatewayOptions struct {
	HouseEdge     decimal.Decimal
	MaxActiveBets int
	HistoryLimit  int
}

func NewGateway(store Store, state *SharedState, hub *Hub, enabled EnabledChecker, users UserDirectory, m *metrics.Metrics, opts GatewayOptions) *Gateway {
	labels, err := lru.New(LABEL_CACHE_SIZE)
	if err != nil {
		panic(err)
	}
	if opts.MaxActiveBets <= 0 {
		opts.MaxActiveBets = MAX_ACTIVE_BETS
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = HISTORY_LIMIT
	}
	if opts.HouseEdge.IsZero() {
		opts.HouseEdge = HOUSE_EDGE
	}
	return &Gateway{
		store:         store,
		state:         state,
		hub:           hub,
		enabled:       enabled,
		users:         users,
		labels:        labels,
		metrics:       m,
		houseEdge:     opts.HouseEdge,
		maxActiveBets: opts.MaxActiveBets,
		historyLimit:  opts.HistoryLimit,
	}
}

// PlaceBet debits the stake and records an Active bet in the Waiting round.
func (g *Gateway) PlaceBet(ctx context.Context, req BetRequest) (*BetResponse, error) {
	resp, err := g.placeBet(ctx, req)
	if err != nil {
		g.metrics.BetsRejected.Inc(1)
		return nil, err
	}
	return resp, nil
}

func (g *Gateway) placeBet(ctx context.Context, req BetRequest) (*BetResponse, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := ledger.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.AutoCashout.Valid {
		if req.AutoCashout.Decimal.LessThanOrEqual(MIN_MULTIPLIER) {
			return nil, ErrInvalidTarget
		}
		if !hasMultiplierScale(req.AutoCashout.Decimal) {
			return nil, ErrMultiplierScale
		}
	}

	snap := g.state.Snapshot()
	if !snap.HasActiveRound() || snap.Phase != PhaseWaiting {
		return nil, ErrBettingClosed
	}

	enabled, err := g.enabled.CrashEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("check game enabled: %w", err)
	}
	if !enabled {
		return nil, ErrGameDisabled
	}

	bet := &Bet{
		ID:               uuid.New(),
		RoundID:          snap.RoundID,
		UserID:           req.UserID,
		Amount:           req.Amount,
		TargetMultiplier: req.AutoCashout,
		WinAmount:        decimal.Zero,
		Status:           BetActive,
		CreatedAt:        nowUTC(),
	}

	var balance decimal.Decimal
	err = g.store.InTx(ctx, func(tx Tx) error {
		round, err := tx.ReadRound(ctx, snap.RoundID)
		if err != nil {
			if errors.Is(err, ErrRoundNotFound) {
				return ErrBettingClosed
			}
			return err
		}
		if round.Status != RoundWaiting {
			return ErrBettingClosed
		}

		active, err := tx.CountActiveBets(ctx, snap.RoundID, req.UserID)
		if err != nil {
			return err
		}
		if active >= g.maxActiveBets {
			return ErrBetLimit
		}

		_, wallet, err := ledger.Debit(ctx, tx, req.UserID, req.Amount, REASON_BET, betReference(bet.ID))
		if err != nil {
			return err
		}
		balance = wallet.Balance

		return tx.InsertBet(ctx, bet)
	})
	if err != nil {
		g.countConflict(err)
		return nil, err
	}

	g.metrics.BetsPlaced.Inc(1)
	g.metrics.WageredCents.Inc(metrics.Cents(bet.Amount))

	g.hub.Broadcast(Event{
		Type: EVENT_BET_PLACED,
		Data: BetPlacedMessage{
			BetID:            bet.ID,
			RoundID:          bet.RoundID,
			UserLabel:        g.label(ctx, bet.UserID),
			Amount:           bet.Amount,
			TargetMultiplier: bet.TargetMultiplier,
			Status:           bet.Status,
		},
	})

	log.Printf("[BET] User %s placed %s on round %d (ID: %s)", req.UserID, bet.Amount.StringFixed(2), snap.RoundNumber, bet.ID)

	return &BetResponse{
		BetID:       bet.ID,
		RoundID:     bet.RoundID,
		Amount:      bet.Amount,
		AutoCashout: bet.TargetMultiplier,
		Balance:     balance,
		Status:      bet.Status,
	}, nil
}

// Cashout settles one of the caller's Active bets at the live multiplier.
func (g *Gateway) Cashout(ctx context.Context, req CashoutRequest) (*CashoutResponse, error) {
	snap := g.state.Snapshot()
	if !snap.HasActiveRound() || snap.Phase != PhaseInProgress {
		return nil, ErrRoundNotRunning
	}
	multiplier := snap.Multiplier

	var (
		settled *Bet
		balance decimal.Decimal
	)
	err := g.store.InTx(ctx, func(tx Tx) error {
		settled = nil

		round, err := tx.ReadRound(ctx, snap.RoundID)
		if err != nil {
			if errors.Is(err, ErrRoundNotFound) {
				return ErrRoundNotRunning
			}
			return err
		}
		if round.Status != RoundInProgress {
			return ErrRoundNotRunning
		}

		bet, err := tx.LockBet(ctx, req.BetID)
		if err != nil {
			return err
		}
		if bet.RoundID != snap.RoundID || bet.UserID != req.UserID || bet.Status != BetActive {
			return ErrBetNotFound
		}

		wallet, err := settle(ctx, tx, bet, multiplier, REASON_CASHOUT)
		if err != nil {
			return err
		}
		settled = bet
		balance = wallet.Balance
		return nil
	})
	if err != nil {
		g.countConflict(err)
		return nil, err
	}

	g.metrics.Cashouts.Inc(1)
	g.metrics.PaidOutCents.Inc(metrics.Cents(settled.WinAmount))
	g.broadcastCashout(ctx, settled, false)

	log.Printf("[CASHOUT] User %s cashed out at %sx (Payout: %s)", req.UserID, multiplier.StringFixed(2), settled.WinAmount.StringFixed(2))

	return &CashoutResponse{
		BetID:      settled.ID,
		RoundID:    settled.RoundID,
		Multiplier: multiplier,
		WinAmount:  settled.WinAmount,
		Balance:    balance,
	}, nil
}

// AutoCashout settles, in one unit of work, every Active bet of the round whose
// target has been reached. It returns how many bets were settled.
func (g *Gateway) AutoCashout(ctx context.Context, roundID uuid.UUID, multiplier decimal.Decimal) (int, error) {
	if !hasMultiplierScale(multiplier) {
		return 0, ErrMultiplierScale
	}

	var settled []*Bet
	err := g.store.InTx(ctx, func(tx Tx) error {
		settled = settled[:0]

		round, err := tx.ReadRound(ctx, roundID)
		if err != nil {
			return err
		}
		if round.Status != RoundInProgress {
			return nil
		}

		candidates, err := tx.AutoCashoutCandidates(ctx, roundID, multiplier)
		if err != nil {
			return err
		}
		for i := range candidates {
			bet := &candidates[i]
			if _, err := settle(ctx, tx, bet, multiplier, REASON_AUTO_CASHOUT); err != nil {
				if errors.Is(err, ErrBetNotFound) {
					continue
				}
				return err
			}
			settled = append(settled, bet)
		}
		return nil
	})
	if err != nil {
		g.countConflict(err)
		return 0, err
	}

	for _, bet := range settled {
		g.metrics.AutoCashouts.Inc(1)
		g.metrics.PaidOutCents.Inc(metrics.Cents(bet.WinAmount))
		g.broadcastCashout(ctx, bet, true)
	}
	return len(settled), nil
}

// settle moves an Active bet to CashedOut and credits the winnings. The status
// gate in TransitionBet decides the race between manual cashout, the auto
// sweep and the crash; the loser sees ErrBetNotFound and nothing is credited.
func settle(ctx context.Context, tx Tx, bet *Bet, multiplier decimal.Decimal, reason string) (*ledger.Wallet, error) {
	at := nowUTC()
	win := bet.Amount.Mul(multiplier).Round(2)

	next := *bet
	next.Status = BetCashedOut
	next.CashoutMultiplier = decimal.NewNullDecimal(multiplier)
	next.WinAmount = win
	next.CashedOutAt = &at

	moved, err := tx.TransitionBet(ctx, &next)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrBetNotFound
	}

	_, wallet, err := ledger.Credit(ctx, tx, bet.UserID, win, reason, betReference(bet.ID))
	if err != nil {
		return nil, err
	}

	*bet = next
	return wallet, nil
}

func (g *Gateway) broadcastCashout(ctx context.Context, bet *Bet, auto bool) {
	g.hub.Broadcast(Event{
		Type: EVENT_BET_CASHED_OUT,
		Data: CashoutMessage{
			BetID:      bet.ID,
			RoundID:    bet.RoundID,
			UserLabel:  g.label(ctx, bet.UserID),
			Amount:     bet.Amount,
			Multiplier: bet.CashoutMultiplier.Decimal,
			WinAmount:  bet.WinAmount,
			Status:     bet.Status,
			Auto:       auto,
		},
	})
}

// CurrentBets lists the bets of the live round, newest first.
func (g *Gateway) CurrentBets(ctx context.Context, callerID uuid.UUID) ([]BetView, error) {
	snap := g.state.Snapshot()
	if !snap.HasActiveRound() {
		return []BetView{}, nil
	}

	bets, err := g.store.RoundBets(ctx, snap.RoundID)
	if err != nil {
		return nil, err
	}

	views := make([]BetView, 0, len(bets))
	for _, b := range bets {
		views = append(views, BetView{
			BetID:             b.ID,
			RoundID:           b.RoundID,
			UserLabel:         g.label(ctx, b.UserID),
			Amount:            b.Amount,
			TargetMultiplier:  b.TargetMultiplier,
			CashoutMultiplier: b.CashoutMultiplier,
			WinAmount:         b.WinAmount,
			Status:            b.Status,
			IsMine:            callerID != uuid.Nil && b.UserID == callerID,
		})
	}
	return views, nil
}

func (g *Gateway) History(ctx context.Context) ([]CrashHistoryItem, error) {
	return g.store.RecentCrashes(ctx, g.historyLimit)
}

// VerifyRound returns the fairness record of a round, verifying it once revealed.
// The crash point is recomputed with the edge the round was played under; rounds
// stored without one fall back to the configured edge.
func (g *Gateway) VerifyRound(ctx context.Context, roundID uuid.UUID) (*RoundAudit, error) {
	round, err := g.store.Round(ctx, roundID)
	if err != nil {
		return nil, err
	}

	audit := &RoundAudit{
		RoundID:        round.ID,
		RoundNumber:    round.Number,
		Status:         round.Status,
		ServerSeedHash: round.ServerSeedHash,
		ClientSeed:     round.ClientSeed,
		Nonce:          round.Nonce,
		HouseEdge:      round.HouseEdge,
	}
	if audit.HouseEdge.IsZero() {
		audit.HouseEdge = g.houseEdge
	}
	if round.Status != RoundCrashed {
		return audit, nil
	}

	audit.ServerSeed = round.ServerSeed
	audit.CrashMultiplier = decimal.NewNullDecimal(round.CrashMultiplier)
	v := VerifyRound(round.ServerSeed, round.ServerSeedHash, round.ClientSeed, round.Nonce, audit.HouseEdge, round.CrashMultiplier)
	audit.Verification = &v
	return audit, nil
}

func (g *Gateway) Balance(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	return g.store.Wallet(ctx, userID)
}

func (g *Gateway) Transactions(ctx context.Context, userID uuid.UUID) ([]ledger.Entry, error) {
	return g.store.Entries(ctx, userID, TRANSACTIONS_LIMIT)
}

func (g *Gateway) Topup(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference string) (*ledger.Entry, error) {
	return g.walletOp(ctx, ledger.Credit, userID, amount, REASON_TOPUP, reference)
}

func (g *Gateway) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference string) (*ledger.Entry, error) {
	return g.walletOp(ctx, ledger.Debit, userID, amount, REASON_WITHDRAWAL, reference)
}

type ledgerOp func(context.Context, ledger.Accounts, uuid.UUID, decimal.Decimal, string, string) (*ledger.Entry, *ledger.Wallet, error)

func (g *Gateway) walletOp(ctx context.Context, op ledgerOp, userID uuid.UUID, amount decimal.Decimal, reason, reference string) (*ledger.Entry, error) {
	var entry *ledger.Entry
	err := g.store.InTx(ctx, func(tx Tx) error {
		var err error
		entry, _, err = op(ctx, tx, userID, amount, reason, reference)
		return err
	})
	if err != nil {
		g.countConflict(err)
		return nil, err
	}
	return entry, nil
}

func (g *Gateway) label(ctx context.Context, userID uuid.UUID) string {
	if v, ok := g.labels.Get(userID); ok {
		return v.(string)
	}
	if g.users == nil {
		return ANONYMOUS_LABEL
	}
	contact, err := g.users.Contact(ctx, userID)
	if err != nil {
		log.Printf("[BET] Label lookup failed for %s: %v", userID, err)
		return ANONYMOUS_LABEL
	}
	label := MaskLabel(contact)
	g.labels.Add(userID, label)
	return label
}

func (g *Gateway) countConflict(err error) {
	if errors.Is(err, ErrConflict) {
		g.metrics.Conflicts.Inc(1)
	}
}

// hasMultiplierScale reports whether m is stored without rounding.
func hasMultiplierScale(m decimal.Decimal) bool {
	return m.Equal(m.Truncate(ledger.MONEY_SCALE))
}

func betReference(betID uuid.UUID) string {
	return "crash:" + betID.String()
}
