package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"journal/api/internal/store"
)

var purgeTokensCmd = &cobra.Command{
	Use:   "purge-tokens",
	Short: "Delete expired refresh sessions and revoked access tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		removed, err := store.NewPostgresStore(db).PurgeExpiredTokens(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired rows\n", removed)
		return nil
	},
}
