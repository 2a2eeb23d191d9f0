package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/aegis/internal/util"
)

// vaultKeyBytes gives a 256-bit passphrase; the vault stretches it
// through Argon2id regardless.
const vaultKeyBytes = 32

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a vault master key passphrase",
	Long: `Prints a fresh random passphrase for --vault-key / AEGIS_VAULT_KEY.
Deployments that start without a configured key fall back to an
ephemeral process key and lose stored secrets on restart; generate a
key once and configure it everywhere.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := util.RandomBase32(vaultKeyBytes)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		fmt.Println(key)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
