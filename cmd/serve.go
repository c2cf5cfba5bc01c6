// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"motorlink/internal/broker"
	"motorlink/internal/config"
	"motorlink/internal/logger"
	"motorlink/internal/registry"
)

var (
	serveAddress   string
	serveDebugFlag bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MotorLink broker",
	Long: `Start the broker daemon. Devices connect on the device path with a device_id
query parameter, dashboards connect on the dashboard path. The REST API and the
metrics endpoint are served on the same listener.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Load configuration
		cfg, found, err := loadServeConfiguration()
		if err != nil {
			return err
		}

		// Set up logging based on configuration
		closer := setupLogging(cfg)
		defer closer.Close()

		log := logger.New()
		if !found {
			log.Warn().
				Str("config_file", configPath).
				Msg("Configuration file not found, using defaults")
		}

		log.Info().
			Str("config_file", configPath).
			Str("address", cfg.Server.Address).
			Str("device_path", cfg.Server.DevicePath).
			Str("dashboard_path", cfg.Server.DashboardPath).
			Str("heartbeat_interval", cfg.Heartbeat.Interval).
			Bool("metrics", cfg.Metrics.Enabled).
			Str("log_level", cfg.Logging.Level).
			Msg("Starting MotorLink broker")

		server, err := broker.NewServer(cfg, registry.Default())
		if err != nil {
			log.Error().Err(err).Msg("Failed to create broker")
			return fmt.Errorf("failed to create broker: %w", err)
		}

		errChan := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil {
				errChan <- err
			}
		}()

		// Handle graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
		case err := <-errChan:
			log.Error().Err(err).Msg("Broker error")
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			log.Error().Err(err).Msg("Error stopping broker")
			return err
		}

		log.Info().Msg("MotorLink broker stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", "", "listen address (overrides server.address)")
	serveCmd.Flags().BoolVar(&serveDebugFlag, "debug", false, "enable debug logging")
}

// loadServeConfiguration loads configuration and applies CLI flag overrides
func loadServeConfiguration() (*config.Config, bool, error) {
	cfg, found, err := loadConfiguration()
	if err != nil {
		return nil, false, err
	}

	if serveAddress != "" {
		cfg.Server.Address = serveAddress
	}
	if serveDebugFlag || verbose {
		cfg.Logging.Level = logger.LOG_DEBUG
	}

	return cfg, found, nil
}

// setupLogging configures the logger based on configuration
func setupLogging(cfg *config.Config) io.Closer {
	logger.SetSilentMode(false)
	return logger.Setup(cfg.Logging.Level, cfg.Logging.Format, logger.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
}
