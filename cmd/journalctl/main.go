// Package main provides journalctl, the operator CLI for the journal API.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"journal/api/internal/config"
	"journal/api/internal/store"
)

var (
	// flagDatabaseURL overrides DATABASE_URL.
	flagDatabaseURL   string
	flagMigrationsDir string

	cfg config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "journalctl",
	Short: "journalctl administers the journal API database and search index",
	Long: `journalctl runs maintenance tasks against the journal API's PostgreSQL
database: schema migrations, rebuilding the Meilisearch index, and purging
expired tokens. Settings come from the same environment as the API server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if flagDatabaseURL != "" {
			cfg.DatabaseURL = flagDatabaseURL
		}
		if flagMigrationsDir != "" {
			cfg.MigrationsDir = flagMigrationsDir
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDatabaseURL, "database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&flagMigrationsDir, "migrations-dir", "", "migrations directory (default: $JOURNAL_MIGRATIONS_DIR)")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(purgeTokensCmd)
}

func openDB(ctx context.Context) (*sql.DB, error) {
	opts := store.DefaultPoolOptions()
	opts.MaxOpenConns = 2
	opts.MaxIdleConns = 1
	return store.Open(ctx, cfg.DatabaseURL, opts)
}
