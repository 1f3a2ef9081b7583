package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"crashgame/internal/game"
	"crashgame/internal/ledger"
)

const (
	// A serialization failure is retried once before surfacing as a conflict.
	txAttempts   = 2
	txRetryDelay = 25 * time.Millisecond

	roundColumns = `id, round_number, status, server_seed, server_seed_hash, client_seed, nonce,
		crash_multiplier, house_edge, created_at, started_at, ended_at`
	betColumns = `id, round_id, user_id, bet_amount, target_multiplier, cashout_multiplier,
		win_amount, status, created_at, cashed_out_at`
)

// Store persists rounds, bets and wallets in Postgres. Every unit of work runs
// at SERIALIZABLE isolation.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(tx game.Tx) error) error {
	for attempt := 0; attempt < txAttempts; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == txAttempts-1 {
			log.Printf("[DB] Giving up after serialization failure: %v", err)
			return fmt.Errorf("%w: %v", game.ErrConflict, err)
		}
		if err := sleepWithContext(ctx, txRetryDelay); err != nil {
			return err
		}
	}
	return game.ErrConflict
}

func (s *Store) runTx(ctx context.Context, fn func(tx game.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) LastRound(ctx context.Context) (*game.Round, error) {
	r, err := scanRound(s.pool.QueryRow(ctx, `
		SELECT `+roundColumns+`
		FROM crash_rounds
		ORDER BY round_number DESC
		LIMIT 1
	`))
	if errors.Is(err, game.ErrRoundNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *Store) Round(ctx context.Context, id uuid.UUID) (*game.Round, error) {
	return scanRound(s.pool.QueryRow(ctx, `SELECT `+roundColumns+` FROM crash_rounds WHERE id = $1`, id))
}

func (s *Store) RecentCrashes(ctx context.Context, limit int) ([]game.CrashHistoryItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, crash_multiplier, ended_at
		FROM crash_rounds
		WHERE status = $1 AND ended_at IS NOT NULL
		ORDER BY round_number DESC
		LIMIT $2
	`, game.RoundCrashed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]game.CrashHistoryItem, 0, limit)
	for rows.Next() {
		var item game.CrashHistoryItem
		if err := rows.Scan(&item.RoundID, &item.CrashMultiplier, &item.EndedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) RoundBets(ctx context.Context, roundID uuid.UUID) ([]game.Bet, error) {
	return queryBets(ctx, s.pool, `
		SELECT `+betColumns+`
		FROM crash_bets
		WHERE round_id = $1
		ORDER BY created_at DESC, id
	`, roundID)
}

func (s *Store) Wallet(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	w := &ledger.Wallet{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, currency, balance FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return &ledger.Wallet{UserID: userID, Currency: ledger.DEFAULT_CURRENCY, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Store) Entries(ctx context.Context, userID uuid.UUID, limit int) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.wallet_id, t.type, t.amount, t.balance_after, t.reason, t.reference, t.created_at
		FROM wallet_transactions t
		JOIN wallets w ON w.id = t.wallet_id
		WHERE w.user_id = $1
		ORDER BY t.created_at DESC, t.seq DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]ledger.Entry, 0, limit)
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Type, &e.Amount, &e.BalanceAfter, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// pgTx is the game.Tx view of one serializable transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockWallet(ctx context.Context, userID uuid.UUID) (*ledger.Wallet, error) {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (id, user_id, currency, balance)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, uuid.New(), userID, ledger.DEFAULT_CURRENCY); err != nil {
		return nil, err
	}

	w := &ledger.Wallet{}
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, currency, balance
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&w.ID, &w.UserID, &w.Currency, &w.Balance)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (t *pgTx) SetBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE wallets SET balance = $1, updated_at = now() WHERE id = $2
	`, balance, walletID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("wallet %s not found", walletID)
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, type, amount, balance_after, reason, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.WalletID, e.Type, e.Amount, e.BalanceAfter, e.Reason, e.Reference, e.CreatedAt)
	return err
}

func (t *pgTx) InsertRound(ctx context.Context, r *game.Round) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO crash_rounds (`+roundColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.ID, r.Number, r.Status, r.ServerSeed, r.ServerSeedHash, r.ClientSeed, r.Nonce,
		r.CrashMultiplier, r.HouseEdge, r.CreatedAt, r.StartedAt, r.EndedAt)
	return err
}

func (t *pgTx) LockRound(ctx context.Context, id uuid.UUID) (*game.Round, error) {
	return scanRound(t.tx.QueryRow(ctx, `SELECT `+roundColumns+` FROM crash_rounds WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) ReadRound(ctx context.Context, id uuid.UUID) (*game.Round, error) {
	return scanRound(t.tx.QueryRow(ctx, `SELECT `+roundColumns+` FROM crash_rounds WHERE id = $1 FOR SHARE`, id))
}

func (t *pgTx) UpdateRound(ctx context.Context, r *game.Round) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE crash_rounds
		SET status = $2, crash_multiplier = $3, started_at = $4, ended_at = $5
		WHERE id = $1
	`, r.ID, r.Status, r.CrashMultiplier, r.StartedAt, r.EndedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return game.ErrRoundNotFound
	}
	return nil
}

func (t *pgTx) OpenRounds(ctx context.Context) ([]game.Round, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+roundColumns+`
		FROM crash_rounds
		WHERE status <> $1
		ORDER BY round_number
		FOR UPDATE
	`, game.RoundCrashed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []game.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}

func (t *pgTx) InsertBet(ctx context.Context, b *game.Bet) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO crash_bets (`+betColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, b.ID, b.RoundID, b.UserID, b.Amount, b.TargetMultiplier, b.CashoutMultiplier,
		b.WinAmount, b.Status, b.CreatedAt, b.CashedOutAt)
	return err
}

func (t *pgTx) LockBet(ctx context.Context, id uuid.UUID) (*game.Bet, error) {
	b, err := scanBet(t.tx.QueryRow(ctx, `SELECT `+betColumns+` FROM crash_bets WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrBetNotFound
	}
	return b, err
}

func (t *pgTx) CountActiveBets(ctx context.Context, roundID, userID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT count(*) FROM crash_bets
		WHERE round_id = $1 AND user_id = $2 AND status = $3
	`, roundID, userID, game.BetActive).Scan(&n)
	return n, err
}

func (t *pgTx) ActiveBets(ctx context.Context, roundID uuid.UUID) ([]game.Bet, error) {
	return queryBets(ctx, t.tx, `
		SELECT `+betColumns+`
		FROM crash_bets
		WHERE round_id = $1 AND status = $2
		ORDER BY created_at, id
		FOR UPDATE
	`, roundID, game.BetActive)
}

func (t *pgTx) AutoCashoutCandidates(ctx context.Context, roundID uuid.UUID, multiplier decimal.Decimal) ([]game.Bet, error) {
	return queryBets(ctx, t.tx, `
		SELECT `+betColumns+`
		FROM crash_bets
		WHERE round_id = $1 AND status = $2
		  AND target_multiplier IS NOT NULL AND target_multiplier <= $3
		ORDER BY created_at, id
		FOR UPDATE
	`, roundID, game.BetActive, multiplier)
}

func (t *pgTx) TransitionBet(ctx context.Context, b *game.Bet) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE crash_bets
		SET status = $2, cashout_multiplier = $3, win_amount = $4, cashed_out_at = $5
		WHERE id = $1 AND status = $6
	`, b.ID, b.Status, b.CashoutMultiplier, b.WinAmount, b.CashedOutAt, game.BetActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ForfeitActiveBets(ctx context.Context, roundID uuid.UUID) (int64, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE crash_bets
		SET status = $2, win_amount = 0
		WHERE round_id = $1 AND status = $3
	`, roundID, game.BetLost, game.BetActive)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryBets(ctx context.Context, q querier, sql string, args ...any) ([]game.Bet, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []game.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func scanRound(row pgx.Row) (*game.Round, error) {
	r := &game.Round{}
	err := row.Scan(&r.ID, &r.Number, &r.Status, &r.ServerSeed, &r.ServerSeedHash, &r.ClientSeed, &r.Nonce,
		&r.CrashMultiplier, &r.HouseEdge, &r.CreatedAt, &r.StartedAt, &r.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrRoundNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanBet(row pgx.Row) (*game.Bet, error) {
	b := &game.Bet{}
	err := row.Scan(&b.ID, &b.RoundID, &b.UserID, &b.Amount, &b.TargetMultiplier, &b.CashoutMultiplier,
		&b.WinAmount, &b.Status, &b.CreatedAt, &b.CashedOutAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// isSerializationError matches serialization failures and deadlocks, both of
// which are safe to retry.
func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
