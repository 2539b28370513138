package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/derpz-discord/math-tavern-bot/internal/client"
	"github.com/derpz-discord/math-tavern-bot/internal/model"
	"github.com/derpz-discord/math-tavern-bot/internal/ui"
)

var (
	configPath string
	httpURL    string
	authToken  string
	jsonOutput bool

	configClient client.ConfigClient
)

func defaultHTTPURL() string {
	if s := os.Getenv("COGSTORE_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

var rootCmd = &cobra.Command{
	Use:           "cogstore <command>",
	Short:         "Guild-scoped configuration store for bot cogs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupColor()
		configClient = client.NewHTTPClient(httpURL, authToken)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if configClient != nil {
			configClient.Close()
		}
	},
}

// localPreRun replaces the root hook for commands that open the store
// directly instead of talking to a server.
func localPreRun(cmd *cobra.Command, args []string) error {
	setupColor()
	return nil
}

func setupColor() {
	if !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("COGSTORE_CONFIG"), "path to a TOML config file")
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "HTTP server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("COGSTORE_AUTH_TOKEN"), "bearer token for the HTTP API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "configs", Title: "Configs:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false

	// Configs
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)

	// Data
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthCmd)
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseTenant(raw string) (model.TenantID, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tenant id %q", raw)
	}
	return model.TenantID(id), nil
}

func parseTenants(raw []string) ([]model.TenantID, error) {
	tenants := make([]model.TenantID, 0, len(raw))
	for _, r := range raw {
		t, err := parseTenant(r)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderError("Error: ")+err.Error())
		os.Exit(1)
	}
}
