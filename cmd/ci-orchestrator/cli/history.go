package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/history_sqlite"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recent runs, or show one run with its jobs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		store, err := history_sqlite.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if len(args) == 1 {
			run, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if historyJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			}
			fmt.Printf("%s on %s (%s)\n", run.Workflow, run.Event.Ref, run.Event.Kind)
			printRuns([]domain.Run{run})
			return nil
		}

		runs, err := store.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if historyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tWORKFLOW\tREF\tSTATUS\tSTARTED")
		for _, r := range runs {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Workflow, r.Event.RefName(), r.Status, r.StartedAt.Local().Format(time.DateTime))
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON")
	rootCmd.AddCommand(historyCmd)
}
