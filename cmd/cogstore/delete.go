package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/derpz-discord/math-tavern-bot/internal/client"
)

var deleteMissingOK bool

var deleteCmd = &cobra.Command{
	Use:   "delete <module> <tenant>...",
	Short: "Delete config documents",
	Long: `Delete config documents.

Rows are never removed automatically, so this is how an orphaned document
(for example of a guild the bot has left) is cleaned up.`,
	GroupID: "configs",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		module := args[0]
		tenants, err := parseTenants(args[1:])
		if err != nil {
			return err
		}
		for _, tenant := range tenants {
			if err := configClient.DeleteConfig(cmd.Context(), module, tenant); err != nil {
				if deleteMissingOK && client.IsNotFound(err) {
					continue
				}
				return fmt.Errorf("deleting %s for %d: %w", module, tenant, err)
			}

			fmt.Fprintf(stdout, "Deleted %s for %d\n", module, tenant)
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteMissingOK, "missing-ok", false, "do not fail when a document does not exist")
}
