package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
	"github.com/davarch/ci-orchestrator/internal/workflow"
)

var (
	listOnlyEnabled  bool
	listOnlyDisabled bool
	listJSON         bool
)

type listItem struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Provider string `json:"provider"`
	Jobs     int    `json:"jobs"`
	Enabled  bool   `json:"enabled"`
	Error    string `json:"error,omitempty"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflows from config.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		entries := cfg.Workflows
		if len(entries) == 0 {
			paths, err := workflow.Discover(cfg.Workspace)
			if err != nil {
				return err
			}
			for _, p := range paths {
				entries = append(entries, config.Workflow{Path: p, Enabled: true})
			}
		}

		items := make([]listItem, 0, len(entries))
		for _, w := range entries {
			if listOnlyEnabled && !w.Enabled {
				continue
			}
			if listOnlyDisabled && w.Enabled {
				continue
			}
			it := listItem{Name: w.Name, Path: w.Path, Enabled: w.Enabled}
			wf, err := workflow.LoadFile(cfg.WorkflowPath(w))
			if err != nil {
				it.Error = err.Error()
			} else {
				if it.Name == "" {
					it.Name = wf.Name
				}
				it.Provider = string(wf.Provider)
				it.Jobs = len(wf.Jobs)
			}
			items = append(items, it)
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "NAME\tPATH\tPROVIDER\tJOBS\tENABLED")
		for _, it := range items {
			name := it.Name
			if name == "" {
				name = "(unnamed)"
			}
			provider := it.Provider
			if it.Error != "" {
				provider = "invalid"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n", name, it.Path, provider, it.Jobs, it.Enabled)
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listOnlyEnabled, "enabled", false, "show only enabled workflows")
	listCmd.Flags().BoolVar(&listOnlyDisabled, "disabled", false, "show only disabled workflows")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")

	listCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if listOnlyEnabled && listOnlyDisabled {
			return fmt.Errorf("flags --enabled and --disabled are mutually exclusive")
		}
		return nil
	}

	rootCmd.AddCommand(listCmd)
}
