package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"motorlink/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the broker configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !configForce {
			cmd.Printf("✓ Configuration file already exists: %s\n", configPath)
			cmd.Printf("Use --force to overwrite it\n")
			return nil
		}

		if err := config.Save(config.NewDefault(), configPath); err != nil {
			return fmt.Errorf("failed to save config file: %w", err)
		}

		cmd.Printf("✓ Configuration file created: %s\n", configPath)
		cmd.Printf("Start the broker with: motorlink serve -c %s\n", configPath)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, found, err := loadConfiguration()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}

		if !found {
			cmd.Printf("# %s not found, showing defaults\n", configPath)
		}
		cmd.Print(string(data))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(configPath); err != nil {
			cmd.Printf("✗ %s: %v\n", configPath, err)
			return err
		}
		cmd.Printf("✓ %s is valid\n", configPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}
