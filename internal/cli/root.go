// Package cli implements the entrysctl operator commands.
package cli

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"github.com/spf13/cobra"
)

var postgresDSN string

var rootCmd = &cobra.Command{
	Use:          "entrysctl",
	Short:        "Operate the entrys tool gateway",
	Long:         "entrysctl applies database migrations and seeds teams, tools, aliases and agent keys.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&postgresDSN, "dsn", os.Getenv("POSTGRES_DSN"), "Postgres DSN (defaults to $POSTGRES_DSN)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
}

// SetVersionInfo sets the version and commit for display.
func SetVersionInfo(version, commit string) {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("entrysctl %s (commit: %s)\n", version, commit))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB(cmd *cobra.Command) (*sql.DB, error) {
	if postgresDSN == "" {
		return nil, fmt.Errorf("no Postgres DSN: pass --dsn or set POSTGRES_DSN")
	}
	db, err := sql.Open("pgx", postgresDSN)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(time.Minute)
	if err := db.PingContext(cmd.Context()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return db, nil
}
