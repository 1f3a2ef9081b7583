package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	GAME_STATUS_ACTIVE   = "Active"
	GAME_STATUS_DISABLED = "Disabled"
)

// Catalog answers the enabled check from the games table.
type Catalog struct {
	pool     *pgxpool.Pool
	gameName string
}

func NewCatalog(pool *pgxpool.Pool, gameName string) *Catalog {
	return &Catalog{pool: pool, gameName: gameName}
}

// CrashEnabled is false when the game row is missing or not Active.
func (c *Catalog) CrashEnabled(ctx context.Context) (bool, error) {
	var status string
	err := c.pool.QueryRow(ctx, `SELECT status FROM games WHERE name = $1`, c.gameName).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == GAME_STATUS_ACTIVE, nil
}

// SetStatus flips the catalog entry, creating it if needed.
func (c *Catalog) SetStatus(ctx context.Context, status string) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO games (id, name, status) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET status = EXCLUDED.status
	`, uuid.New(), c.gameName, status)
	return err
}
