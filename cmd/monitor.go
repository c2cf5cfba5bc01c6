package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"motorlink/internal/logger"
	"motorlink/internal/monitor"
)

var monitorURL string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Open the terminal dashboard",
	Long: `Connect to a running broker as a dashboard and show connected devices,
the latest telemetry and device status in the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Log lines would corrupt the TUI
		logger.SetSilentMode(true)

		url := monitorURL
		if url == "" {
			cfg, _, err := loadConfiguration()
			if err != nil {
				return err
			}
			base := baseURLFromAddress(cfg.Server.Address)
			url = "ws" + strings.TrimPrefix(base, "http") + cfg.Server.DashboardPath
		}

		return monitor.Run(context.Background(), url)
	},
}

func init() {
	monitorCmd.Flags().StringVar(&monitorURL, "url", "", "dashboard WebSocket URL (default derived from config)")
}
