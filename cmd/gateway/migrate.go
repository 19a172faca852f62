package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/database"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create the gateway tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := config.DatabaseURLFromEnv()
			if err != nil {
				return err
			}
			db, err := database.New(url)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied.")
			return nil
		},
	})
}
