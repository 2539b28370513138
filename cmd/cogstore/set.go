package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var setFile string

var setCmd = &cobra.Command{
	Use:   "set <module> <tenant> [document|-]",
	Short: "Replace a tenant's config document",
	Long: `Replace a tenant's config document.

The document is taken from the third argument, from --file, or from stdin
when neither is given (or the argument is "-"). It must be valid JSON and
replaces the stored document as a whole.`,
	GroupID: "configs",
	Args:    cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		module := args[0]
		tenant, err := parseTenant(args[1])
		if err != nil {
			return err
		}

		doc, err := readDocument(cmd.InOrStdin(), args[2:], setFile)
		if err != nil {
			return err
		}

		cfg, err := configClient.SetConfig(cmd.Context(), module, tenant, doc)
		if err != nil {
			return fmt.Errorf("setting %s for %d: %w", module, tenant, err)
		}
		if jsonOutput {
			return printJSON(cfg)
		}
		fmt.Fprintf(stdout, "Updated %s for %d\n", module, tenant)
		return nil
	},
}

func init() {
	setCmd.Flags().StringVarP(&setFile, "file", "f", "", "read the document from a file")
}

func readDocument(stdin io.Reader, args []string, file string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case len(args) > 0 && args[0] != "-":
		if file != "" {
			return nil, errors.New("pass the document as an argument or with --file, not both")
		}
		data = []byte(args[0])
	case file != "":
		data, err = os.ReadFile(file)
	default:
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	if !json.Valid(data) {
		return nil, errors.New("document is not valid JSON")
	}
	return json.RawMessage(data), nil
}
