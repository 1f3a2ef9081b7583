package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"crashgame/internal/database"
)

var migrationFile = regexp.MustCompile(`^(\d+)_.+\.(up|down)\.sql$`)

func MigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Args:  cobra.MinimumNArgs(1),
	}
	cmd.PersistentFlags().String("path", getEnv("MIGRATIONS_PATH", "./migrations"), "migrations directory")

	cmd.AddCommand(
		migrateUpCmd(),
		migrateDownCmd(),
		migrateVersionCmd(),
		migrateCreateCmd(),
	)

	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(db *sql.DB, path string) error {
				log.Println("Running migrations...")
				if err := database.RunMigrations(db, path); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				log.Println("Migrations completed successfully")
				return nil
			})
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(db *sql.DB, path string) error {
				log.Println("Rolling back last migration...")
				if err := database.RollbackMigration(db, path); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				log.Println("Rollback completed successfully")
				return nil
			})
		},
	}
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, func(db *sql.DB, path string) error {
				version, dirty, err := database.GetMigrationVersion(db, path)
				if err != nil {
					return fmt.Errorf("failed to get version: %w", err)
				}
				if dirty {
					fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d (DIRTY - needs manual intervention)\n", version)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d\n", version)
				}
				return nil
			})
		},
	}
}

func migrateCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new pair of migration files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			up, down, err := createMigration(path, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Created migration files:")
			fmt.Fprintf(cmd.OutOrStdout(), "   - %s\n", up)
			fmt.Fprintf(cmd.OutOrStdout(), "   - %s\n", down)
			return nil
		},
	}
}

func withDB(cmd *cobra.Command, fn func(db *sql.DB, path string) error) error {
	path, _ := cmd.Flags().GetString("path")

	db, err := sql.Open("pgx", databaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	return fn(db, path)
}

func databaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		getEnv("BLUEPRINT_DB_USERNAME", "postgres"),
		getEnv("BLUEPRINT_DB_PASSWORD", "postgres"),
		getEnv("BLUEPRINT_DB_HOST", "localhost"),
		getEnv("BLUEPRINT_DB_PORT", "5432"),
		getEnv("BLUEPRINT_DB_DATABASE", "crashdb"),
		getEnv("BLUEPRINT_DB_SCHEMA", "public"),
	)
}

// createMigration writes the next numbered up/down pair into dir.
func createMigration(dir, name string, now time.Time) (string, string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("failed to read migrations directory: %w", err)
	}

	next := 1
	for _, file := range files {
		m := migrationFile.FindStringSubmatch(file.Name())
		if m == nil {
			continue
		}
		if v, err := strconv.Atoi(m[1]); err == nil && v >= next {
			next = v + 1
		}
	}

	upFile := filepath.Join(dir, fmt.Sprintf("%06d_%s.up.sql", next, name))
	downFile := filepath.Join(dir, fmt.Sprintf("%06d_%s.down.sql", next, name))

	upContent := fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n", name, now.UTC().Format(time.RFC3339))
	if err := os.WriteFile(upFile, []byte(upContent), 0644); err != nil {
		return "", "", fmt.Errorf("failed to create up migration: %w", err)
	}
	downContent := fmt.Sprintf("-- Rollback: %s\n\n", name)
	if err := os.WriteFile(downFile, []byte(downContent), 0644); err != nil {
		return "", "", fmt.Errorf("failed to create down migration: %w", err)
	}
	return upFile, downFile, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
