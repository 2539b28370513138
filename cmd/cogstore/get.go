package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get <module> <tenant>...",
	Short: "Show a module's config for one or more tenants",
	Long: `Show a module's config for one or more tenants.

With a single tenant the server falls back to the module's built-in default
when nothing is stored. With several tenants only stored documents are
returned and the rest are listed as absent.`,
	GroupID: "configs",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		module := args[0]
		tenants, err := parseTenants(args[1:])
		if err != nil {
			return err
		}

		if len(tenants) == 1 {
			cfg, err := configClient.GetConfig(cmd.Context(), module, tenants[0])
			if err != nil {
				return fmt.Errorf("getting %s for %d: %w", module, tenants[0], err)
			}
			if jsonOutput {
				return printJSON(cfg)
			}
			printConfig(cfg)
			return nil
		}

		docs, err := configClient.GetConfigs(cmd.Context(), module, tenants)
		if err != nil {
			return fmt.Errorf("getting %s: %w", module, err)
		}
		if jsonOutput {
			return printJSON(docs)
		}
		printConfigs(tenants, docs)
		return nil
	},
}
