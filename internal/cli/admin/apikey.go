package admin

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const apiKeyPrefix = "sck_"

// APIKeyCmd returns the apikey command
func APIKeyCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Generate API keys for API_KEYS",
		Long: `Generate random API keys. The server reads its keys from API_KEYS, a
comma-separated list; clients are identified by position (key-1, key-2, ...).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 || count > 20 {
				return fmt.Errorf("count must be between 1 and 20")
			}
			keys := make([]string, count)
			for i := range keys {
				key, err := generateAPIKey()
				if err != nil {
					return fmt.Errorf("failed to generate key: %w", err)
				}
				keys[i] = key
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "\nAPI_KEYS=%s\n", strings.Join(keys, ","))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of keys")
	return cmd
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}
