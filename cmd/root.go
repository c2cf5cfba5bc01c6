package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"motorlink/internal/config"
	"motorlink/internal/logger"
)

var (
	verbose    bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "motorlink",
	Short: "MotorLink - WebSocket broker between motor controllers and dashboards",
	Long: `MotorLink relays commands from operator dashboards to motor-controller devices
and fans device telemetry and status out to every connected dashboard.
It also exposes a small REST API, prometheus metrics and a terminal monitor.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetLevel("debug")
		}
	},
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to configuration file")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(monitorCmd)
}

// loadConfiguration reads the config file, falling back to defaults when it
// does not exist
func loadConfiguration() (*config.Config, bool, error) {
	cfg, found, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, found, nil
}
