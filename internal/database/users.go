package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"crashgame/internal/game"
)

// Users resolves contact details for masked labels.
type Users struct {
	pool *pgxpool.Pool
}

func NewUsers(pool *pgxpool.Pool) *Users {
	return &Users{pool: pool}
}

func (u *Users) Contact(ctx context.Context, userID uuid.UUID) (*game.Contact, error) {
	var email, phone *string
	err := u.pool.QueryRow(ctx, `SELECT email, phone FROM users WHERE id = $1`, userID).Scan(&email, &phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c := &game.Contact{}
	if email != nil {
		c.Email = *email
	}
	if phone != nil {
		c.Phone = *phone
	}
	return c, nil
}
