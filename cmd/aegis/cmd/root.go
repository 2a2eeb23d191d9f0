package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Aegis is an account security service",
	Long: `Account security subsystem: an encrypted secret vault, TOTP-based
multi-factor authentication, session management with idle-timeout
enforcement, and a bounded login history.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
