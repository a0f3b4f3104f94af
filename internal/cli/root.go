// Package cli wires the laurel commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/laurelhq/laurel/pkg/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "laurel",
	Short: "Multi-tenant recognition and rewards platform",
	Long: `Laurel runs a multi-tenant points platform: an append-only ledger,
hierarchical budget delegation, peer recognition and OTP-gated reward
redemption, exposed as a JSON REST API.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		godotenv.Load()
		logging.Setup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the TOML config file")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "laurel.toml"
	}
	return filepath.Join(home, ".laurel", "config.toml")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
