package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/partflow/partflow/client"
)

var (
	version = "dev"

	cfgFile   string
	server    string
	accessKey string
	secretKey string
)

var rootCmd = &cobra.Command{
	Use:     "partflow-cli",
	Version: version,
	Short:   "Client for partflow resumable uploads",
	Long: `Partflow CLI - client for the partflow transfer server.

Uploads are chunked and resumable: if an upload is interrupted, rerun
it with --resume <transfer-id> and only the missing parts are sent.

Examples:
  partflow-cli configure
  partflow-cli upload ./big.iso images/big.iso
  partflow-cli upload --resume 6a1f... ./big.iso images/big.iso
  partflow-cli status 6a1f...
  partflow-cli url images/big.iso --expiry 1h`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.partflow/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&server, "server", "s", "", "server URL (default: http://localhost:5808, env: PARTFLOW_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&accessKey, "access-key", "a", "", "access key (env: PARTFLOW_ACCESS_KEY)")
	rootCmd.PersistentFlags().StringVarP(&secretKey, "secret-key", "k", "", "secret key (env: PARTFLOW_SECRET_KEY)")

	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(urlCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildConfig merges config from file, env vars, and flags (flags take precedence).
func buildConfig() (*client.Config, error) {
	var configs []*client.Config

	// 1. Load from config file
	configPath := cfgFile
	if configPath == "" {
		configPath = client.DefaultConfigPath()
	}

	if configPath != "" {
		fileCfg, err := client.LoadConfigFromFile(configPath)
		if err != nil {
			// Only error if the user explicitly pointed at a file;
			// a missing default config is fine.
			if cfgFile != "" {
				return nil, err
			}
		} else {
			configs = append(configs, fileCfg)
		}
	}

	// 2. Load from environment variables
	configs = append(configs, client.ConfigFromEnv())

	// 3. Load from flags
	configs = append(configs, &client.Config{
		Server:    server,
		AccessKey: accessKey,
		SecretKey: secretKey,
	})

	return client.MergeConfig(configs...), nil
}

// getClient creates and returns a configured client.
func getClient() (*client.Client, error) {
	cfg, err := buildConfig()
	if err != nil {
		return nil, err
	}

	return client.New(cfg)
}
