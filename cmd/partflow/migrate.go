package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/partflow/partflow/config"
	"github.com/partflow/partflow/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the metadata schema",
	Long: `Create the transfer metadata tables if they do not exist and
verify the resulting schema. Safe to run repeatedly.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.FromContext(ctx)
	if err != nil {
		return err
	}

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if err := db.Validate(ctx); err != nil {
		return fmt.Errorf("validate database schema: %w", err)
	}

	slog.Info("migration complete", "type", cfg.Database.Type,
		"transfers", cfg.Database.Tables.Transfers, "parts", cfg.Database.Tables.Parts)
	return nil
}
