package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"crashgame/internal/cache"
	"crashgame/internal/config"
	"crashgame/internal/database"
)

const GAME_COMMAND_TIMEOUT = 10 * time.Second

type catalogWriter interface {
	SetStatus(ctx context.Context, status string) error
	CrashEnabled(ctx context.Context) (bool, error)
}

type flagInvalidator interface {
	Invalidate(ctx context.Context) error
}

func GameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Enable or disable the crash game in the catalog",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.PersistentFlags().String("name", getEnv("GAME_NAME", config.DEFAULT_GAME_NAME), "catalog entry of the crash game")

	cmd.AddCommand(
		gameStatusCmd("enable", "Let the scheduler open new rounds", database.GAME_STATUS_ACTIVE),
		gameStatusCmd("disable", "Stop new rounds after the current one", database.GAME_STATUS_DISABLED),
	)
	return cmd
}

func gameStatusCmd(use, short, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")

			ctx, cancel := context.WithTimeout(cmd.Context(), GAME_COMMAND_TIMEOUT)
			defer cancel()

			pool, err := pgxpool.New(ctx, databaseURL())
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			var flags flagInvalidator
			if svc := cache.New(); svc != nil {
				defer svc.Close()
				flags = cache.NewEnabledCache(svc.Client(), nil, 0)
			}

			enabled, err := setGameStatus(ctx, database.NewCatalog(pool, name), flags, status)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: status %s, enabled %v\n", name, status, enabled)
			return nil
		},
	}
}

// setGameStatus writes the catalog entry, drops the cached flag so running
// schedulers see the change on their next check, and reads the entry back.
func setGameStatus(ctx context.Context, catalog catalogWriter, flags flagInvalidator, status string) (bool, error) {
	if err := catalog.SetStatus(ctx, status); err != nil {
		return false, fmt.Errorf("set status: %w", err)
	}
	if flags != nil {
		if err := flags.Invalidate(ctx); err != nil {
			return false, fmt.Errorf("invalidate cached flag: %w", err)
		}
	}
	return catalog.CrashEnabled(ctx)
}
