package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/logging"
	"github.com/davarch/ci-orchestrator/internal/launch"
)

var launchCmd = &cobra.Command{
	Use:                "launch [args...]",
	Short:              "Run the project's cli module with the virtual environment's python",
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		code, err := launch.Run(ctx, log, launch.Options{
			ProjectDir: cfg.Workspace,
			VenvDir:    cfg.Launch.Venv,
			Module:     cfg.Launch.Module,
			Stdin:      os.Stdin,
			Stdout:     os.Stdout,
			Stderr:     os.Stderr,
		}, args)
		if err != nil {
			return err
		}
		if code != 0 {
			return exitError{code: code}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(launchCmd)
}
