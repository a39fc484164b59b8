package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/partflow/partflow/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Version: version,
	Use:     "partflow",
	Short:   "Resumable multipart upload server",
	Long: `Partflow coordinates resumable chunked uploads: clients declare a
transfer, upload parts with checksums in any order, and commit the
assembled object to filesystem or S3 storage.`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var configFiles []string
		if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
			configFiles = []string{configFile}
		}

		cfg, err := config.Load(configFiles, cmd.Flags())
		if err != nil {
			return err
		}

		setupLogging(cfg.Log.Level)
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("db-type", "", "database type: sqlite, postgres (default: sqlite, env: PARTFLOW_DATABASE_TYPE)")
	rootCmd.PersistentFlags().String("db-dsn", "", "database connection string (default: partflow.db, env: PARTFLOW_DATABASE_DSN)")
	rootCmd.PersistentFlags().String("storage-type", "", "storage backend: filesystem, s3 (default: filesystem, env: PARTFLOW_STORAGE_TYPE)")
	rootCmd.PersistentFlags().String("storage-path", "", "filesystem storage directory (default: ./data, env: PARTFLOW_STORAGE_FILESYSTEM_PATH)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
