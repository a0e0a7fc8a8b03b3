package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"journal/api/internal/logger"
	"journal/api/internal/search"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the Meilisearch entry index from PostgreSQL",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(cfg.MeiliURL) == "" {
			return errors.New("MEILI_URL is not set")
		}
		log := logger.New(logger.Config{Writer: cmd.ErrOrStderr(), Format: logger.FormatText, Level: cfg.LogLevel})

		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meili.Close()
		if !meili.Healthy() {
			return fmt.Errorf("meilisearch at %s is not reachable", cfg.MeiliURL)
		}

		pgfts := search.NewPgFTS(db)
		svc := search.NewService(meili, pgfts, log)
		defer svc.Close()
		count, err := svc.ReindexAll(cmd.Context(), pgfts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d entries\n", count)
		return nil
	},
}
