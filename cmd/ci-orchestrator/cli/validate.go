package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/logging"
	"github.com/davarch/ci-orchestrator/internal/workflow"
)

var validateWatch bool

var validateCmd = &cobra.Command{
	Use:   "validate [file...]",
	Short: "Check pipeline documents: syntax, stages, dependencies and cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := args
		if len(paths) == 0 {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if paths, err = workflowPaths(cfg); err != nil {
				return err
			}
		}
		if len(paths) == 0 {
			return fmt.Errorf("no pipeline documents found")
		}

		bad := validatePaths(paths)
		if !validateWatch {
			if bad > 0 {
				return exitError{code: 1}
			}
			return nil
		}

		log := logging.New()
		defer func() { _ = log.Sync() }()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		watchFiles(ctx, log, paths, func() {
			fmt.Println("--- reloaded")
			validatePaths(paths)
		})
		<-ctx.Done()
		return nil
	},
}

// validatePaths prints one line per document and every problem found in
// it, returning the number of invalid documents.
func validatePaths(paths []string) int {
	bad := 0
	for _, p := range paths {
		wf, err := workflow.LoadFile(p)
		if err == nil {
			err = workflow.Validate(wf)
		}
		if err == nil {
			fmt.Printf("ok       %s (%s, %d jobs)\n", p, wf.Provider, len(wf.Jobs))
			continue
		}
		bad++
		fmt.Printf("invalid  %s\n", p)
		for _, e := range multierr.Errors(err) {
			_, _ = fmt.Fprintf(os.Stdout, "  - %v\n", e)
		}
	}
	return bad
}

func init() {
	validateCmd.Flags().BoolVar(&validateWatch, "watch", false, "re-validate whenever a document changes")
	rootCmd.AddCommand(validateCmd)
}
