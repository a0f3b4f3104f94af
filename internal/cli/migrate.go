package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/laurelhq/laurel/internal/daemon"
	"github.com/laurelhq/laurel/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database and apply pending migrations",
	Long: `Open the configured SQLite database and bring its schema up to
date. Serve does this on startup too; migrate exists so deploys can run
schema changes before rolling the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := daemon.Load(configPath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		db, err := sqlite.New(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		defer db.Close()
		fmt.Printf("Database ready at %s\n", cfg.Storage.Path)
		return nil
	},
}
