package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/derpz-discord/math-tavern-bot/internal/client"
	"github.com/derpz-discord/math-tavern-bot/internal/model"
	"github.com/derpz-discord/math-tavern-bot/internal/ui"
)

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}

func printConfig(cfg *client.Config) {
	header := ui.RenderKey(cfg.Module) + " " + ui.RenderAccent(strconv.FormatInt(int64(cfg.Tenant), 10))
	if cfg.Default {
		header += " " + ui.RenderMuted("(default)")
	}
	fmt.Fprintln(stdout, header)
	fmt.Fprintln(stdout, ui.FormatDocument(cfg.Data, true))
}

// printConfigs prints one line per requested tenant, in request order.
// Tenants without a stored document are listed as absent.
func printConfigs(tenants []model.TenantID, docs map[model.TenantID]json.RawMessage) {
	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tDOCUMENT")
	found := 0
	for _, t := range tenants {
		doc, ok := docs[t]
		if !ok {
			fmt.Fprintf(w, "%d\t%s\n", t, ui.RenderMuted("(absent)"))
			continue
		}
		found++
		fmt.Fprintf(w, "%d\t%s\n", t, ui.FormatDocument(doc, false))
	}
	w.Flush()
	fmt.Fprintf(stdout, "\n%d of %d tenants configured\n", found, len(tenants))
}

// printModules prints a tenant's documents sorted by module name.
func printModules(configs map[string]json.RawMessage) {
	modules := make([]string, 0, len(configs))
	for m := range configs {
		modules = append(modules, m)
	}
	sort.Strings(modules)

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODULE\tDOCUMENT")
	for _, m := range modules {
		fmt.Fprintf(w, "%s\t%s\n", ui.RenderKey(m), ui.FormatDocument(configs[m], false))
	}
	w.Flush()
	fmt.Fprintf(stdout, "\n%d modules\n", len(modules))
}
