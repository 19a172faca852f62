package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/config"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/database"
	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

var (
	genKeyKind     string
	genKeyName     string
	genKeyLimitUSD float64
	genKeySave     bool
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "hash-key <plaintext>",
		Short: "Print the stored hash of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			salt, err := config.KeySaltFromEnv()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), auth.HashKey(salt, args[0]))
			return nil
		},
	})

	genKeyCmd := &cobra.Command{
		Use:   "gen-key",
		Short: "Generate a new gateway or end-user key",
		Args:  cobra.NoArgs,
		RunE:  runGenKey,
	}
	genKeyCmd.Flags().StringVar(&genKeyKind, "kind", "gateway", "Key kind: gateway or user")
	genKeyCmd.Flags().StringVar(&genKeyName, "name", "", "Display name stored with the key")
	genKeyCmd.Flags().Float64Var(&genKeyLimitUSD, "monthly-limit-usd", 0, "Monthly budget override in USD (0 = system default)")
	genKeyCmd.Flags().BoolVar(&genKeySave, "save", false, "Insert the key into the database")
	rootCmd.AddCommand(genKeyCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "map-key <external-key> <gateway-key>",
		Short: "Let an external-format key authenticate as a gateway key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			external, internal := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
			if external == "" || internal == "" {
				return fmt.Errorf("keys cannot be empty")
			}
			url, err := config.DatabaseURLFromEnv()
			if err != nil {
				return err
			}
			db, err := database.New(url)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.MapCredential(cmd.Context(), external, internal); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mapped %s... to %s...\n", auth.DisplayPrefix(external), auth.DisplayPrefix(internal))
			return nil
		},
	})
}

func parseKind(kind string) (models.CredentialKind, string, error) {
	switch models.CredentialKind(strings.ToLower(strings.TrimSpace(kind))) {
	case models.KindSystem:
		return models.KindSystem, auth.SystemKeyPrefix, nil
	case models.KindEndUser:
		return models.KindEndUser, auth.EndUserKeyPrefix, nil
	default:
		return "", "", fmt.Errorf("invalid --kind %q (want gateway or user)", kind)
	}
}

func runGenKey(cmd *cobra.Command, args []string) error {
	kind, prefix, err := parseKind(genKeyKind)
	if err != nil {
		return err
	}
	salt, err := config.KeySaltFromEnv()
	if err != nil {
		return err
	}
	plaintext, hash, err := auth.GenerateKey(salt, prefix)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "key:  %s\n", plaintext)
	fmt.Fprintf(out, "hash: %s\n", hash)

	if !genKeySave {
		return nil
	}

	name := strings.TrimSpace(genKeyName)
	if name == "" {
		name = auth.DisplayPrefix(plaintext)
	}
	url, err := config.DatabaseURLFromEnv()
	if err != nil {
		return err
	}
	db, err := database.New(url)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := db.CreateKey(cmd.Context(), kind, name, hash, auth.DisplayPrefix(plaintext), genKeyLimitUSD)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "id:   %s\n", id)
	fmt.Fprintln(out, "Store the key now; it cannot be recovered from the hash.")
	return nil
}
