package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/logging"
)

var runEvent eventFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every workflow the event triggers and wait for the result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := runEvent.event()
		if err != nil {
			return err
		}

		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		a, err := newApp(log, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		log.Info("start",
			zap.String("version", version),
			zap.String("event", string(ev.Kind)),
			zap.String("ref", ev.Ref),
			zap.Int("workflows", len(a.disp.Workflows())),
			zap.String("workspace", a.cfg.Workspace),
		)
		runs, err := a.disp.Dispatch(ctx, ev)
		if err != nil {
			log.Error("dispatch", zap.Error(err))
		}
		if len(runs) == 0 && err == nil {
			fmt.Println("no workflow triggered")
			return nil
		}

		printRuns(runs)
		for _, r := range runs {
			if r.Status != domain.StatusSuccess {
				return exitError{code: 1}
			}
		}
		if err != nil {
			return exitError{code: 1}
		}
		return nil
	},
}

func printRuns(runs []domain.Run) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Workflow, r.Status, r.ID, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		for _, j := range r.Jobs {
			note := j.Err
			if j.AllowFailure && j.Status == domain.JobFailed {
				note = "allowed to fail: " + note
			}
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", j.ID, j.Status, dash(j.LogPath), note)
		}
	}
	_ = w.Flush()
}

func init() {
	runEvent.register(runCmd)
	rootCmd.AddCommand(runCmd)
}
