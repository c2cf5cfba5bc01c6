package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"motorlink/internal/api"
)

var (
	statusURL  string
	statusJSON bool
)

var (
	statusOnlineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")).Bold(true)
	statusOfflineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	statusLabelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Width(14)
	statusMutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check a running broker",
	Long:  `Query the REST API of a running broker and print connected devices and dashboards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkBrokerStatus(cmd)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "broker base URL (default derived from server.address)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw responses as JSON")
}

// checkBrokerStatus checks the status of the running broker
func checkBrokerStatus(cmd *cobra.Command) error {
	baseURL := statusURL
	if baseURL == "" {
		cfg, _, err := loadConfiguration()
		if err != nil {
			return err
		}
		baseURL = baseURLFromAddress(cfg.Server.Address)
	}

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	var health map[string]interface{}
	healthErr := getJSON(client, baseURL+"/api/health", &health)

	var status api.StatusResponse
	statusErr := getJSON(client, baseURL+"/api/status", &status)

	if statusJSON {
		return displayJSONStatus(cmd, baseURL, health, &status, healthErr, statusErr)
	}
	return displayCompactStatus(cmd, baseURL, health, &status, healthErr, statusErr)
}

// baseURLFromAddress turns a listen address such as ":3000" into a URL
func baseURLFromAddress(address string) string {
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return strings.TrimRight(address, "/")
	}
	if strings.HasPrefix(address, ":") {
		return "http://localhost" + address
	}
	return "http://" + address
}

// getJSON makes an HTTP GET request and decodes the response body into out
func getJSON(client *http.Client, url string, out interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// displayCompactStatus displays a user-friendly compact status
func displayCompactStatus(cmd *cobra.Command, baseURL string, health map[string]interface{}, status *api.StatusResponse, healthErr, statusErr error) error {
	if healthErr != nil || statusErr != nil {
		cmd.Println(statusLabelStyle.Render("Broker") + statusOfflineStyle.Render("✗ OFFLINE"))
		if healthErr != nil {
			cmd.Printf("Connection Error: %v\n", healthErr)
		} else {
			cmd.Printf("Status Error: %v\n", statusErr)
		}
		return nil
	}

	cmd.Println(statusLabelStyle.Render("Broker") + statusOnlineStyle.Render("✓ RUNNING"))
	cmd.Println(statusLabelStyle.Render("URL") + baseURL)
	if uptime, ok := health["uptime"].(string); ok {
		cmd.Println(statusLabelStyle.Render("Uptime") + uptime)
	}

	if components, ok := health["components"].(map[string]interface{}); ok {
		names := make([]string, 0, len(components))
		for name := range components {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			state, _ := components[name].(string)
			icon := statusOnlineStyle.Render("✓")
			if state != "ok" {
				icon = statusOfflineStyle.Render("✗")
			}
			cmd.Println(statusLabelStyle.Render(titleCase(name)) + icon + " " + state)
		}
	}

	cmd.Println()
	cmd.Println(statusLabelStyle.Render("Devices") + fmt.Sprintf("%d", status.Stats.Devices))
	for _, device := range status.Devices {
		cmd.Printf("  %s %s\n", device.ID, statusMutedStyle.Render(fmt.Sprintf(
			"%s, connected %s, last heartbeat %s ago",
			device.IP,
			device.ConnectedAt.Local().Format("15:04:05"),
			time.Since(device.LastHeartbeat).Round(time.Second),
		)))
	}
	cmd.Println(statusLabelStyle.Render("Dashboards") + fmt.Sprintf("%d", status.Stats.Dashboards))

	return nil
}

// displayJSONStatus displays detailed JSON status information
func displayJSONStatus(cmd *cobra.Command, baseURL string, health map[string]interface{}, status *api.StatusResponse, healthErr, statusErr error) error {
	result := map[string]interface{}{
		"online":    healthErr == nil && statusErr == nil,
		"url":       baseURL,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if healthErr != nil {
		result["health_error"] = healthErr.Error()
	} else {
		result["health"] = health
	}

	if statusErr != nil {
		result["status_error"] = statusErr.Error()
	} else {
		result["status"] = status
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

// titleCase converts a string to title case (capitalize first letter)
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
