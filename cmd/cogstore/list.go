package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list <tenant>",
	Short:   "List every stored config of a tenant",
	GroupID: "configs",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, err := parseTenant(args[0])
		if err != nil {
			return err
		}

		configs, err := configClient.TenantConfigs(cmd.Context(), tenant)
		if err != nil {
			return fmt.Errorf("listing configs for %d: %w", tenant, err)
		}
		if jsonOutput {
			return printJSON(configs)
		}
		printModules(configs)
		return nil
	},
}
