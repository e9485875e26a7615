package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	dbPath     string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "liftgate",
	Short: "Liftgate - experiment statistics and safety-gated deployments",
	Long: `Liftgate decides experiments: it turns raw impression/click/conversion
counters into significance calls, and only deploys a winning variant
once its content has a fresh, passing safety check.

Single Go binary, embedded SQLite.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("LIFTGATE_DB_PATH", "./liftgate.db"), "database path")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnvOrDefault("LIFTGATE_CONFIG", ""), "config file path")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
