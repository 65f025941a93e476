package cli

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/artifact_fs"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/logging"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/publish_http"
)

var (
	artifactsRun  string
	artifactsJSON bool
	publishTag    string
	publishNames  []string
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect, prune and publish stored artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List artifacts, optionally of one run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openArtifacts()
		if err != nil {
			return err
		}
		items, err := store.List(cmd.Context(), artifactsRun)
		if err != nil {
			return err
		}
		if artifactsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "RUN\tNAME\tJOB\tFILES\tSIZE\tEXPIRES")
		for _, a := range items {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", a.RunID, a.Name, a.Job, a.Files, a.Size, expires(a, now))
		}
		_ = w.Flush()
		return nil
	},
}

var artifactsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired artifacts now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openArtifacts()
		if err != nil {
			return err
		}
		n, err := store.Prune(cmd.Context(), time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d artifacts\n", n)
		return nil
	},
}

var artifactsPublishCmd = &cobra.Command{
	Use:   "publish <target>",
	Short: "Upload the artifacts of a run to a configured publish target",
	Args:  cobra.ExactArgs(1),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
		cfg, err := config.Load(cfgPath)
		if err != nil || len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var out []string
		for name := range cfg.Publish.Targets {
			out = append(out, name)
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if artifactsRun == "" {
			return fmt.Errorf("--run is required")
		}
		store, cfg, err := openArtifacts()
		if err != nil {
			return err
		}

		names := publishNames
		if len(names) == 0 {
			all, err := store.List(cmd.Context(), artifactsRun)
			if err != nil {
				return err
			}
			for _, a := range all {
				names = append(names, a.Name)
			}
		}
		if len(names) == 0 {
			return fmt.Errorf("run %s: %w", artifactsRun, domain.ErrArtifactMissing)
		}

		tmp, err := os.MkdirTemp("", "ci-orchestrator-publish-")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(tmp) }()

		for _, name := range names {
			if _, err := store.Fetch(cmd.Context(), artifactsRun, name, tmp); err != nil {
				return err
			}
		}
		var files []string
		err = filepath.WalkDir(tmp, func(p string, d fs.DirEntry, err error) error {
			if err == nil && !d.IsDir() {
				files = append(files, p)
			}
			return err
		})
		if err != nil {
			return err
		}

		pub := publish_http.New(publishTargets(cfg), cfg.Publish.Timeout)
		if err := pub.Publish(cmd.Context(), domain.PublishRequest{Target: args[0], Tag: publishTag, Files: files}); err != nil {
			return err
		}
		fmt.Printf("published %d files to %s\n", len(files), args[0])
		return nil
	},
}

func openArtifacts() (*artifact_fs.Store, config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfg, err
	}
	return artifact_fs.New(cfg.Artifacts.Dir, logging.New()), cfg, nil
}

func expires(a domain.Artifact, now time.Time) string {
	switch {
	case a.ExpiresAt.IsZero():
		return "never"
	case a.Expired(now):
		return "expired"
	default:
		return a.ExpiresAt.Format(time.RFC3339)
	}
}

func init() {
	artifactsCmd.PersistentFlags().StringVar(&artifactsRun, "run", "", "run ID")
	artifactsListCmd.Flags().BoolVar(&artifactsJSON, "json", false, "print JSON")
	artifactsPublishCmd.Flags().StringVar(&publishTag, "tag", "", "release tag")
	artifactsPublishCmd.Flags().StringSliceVar(&publishNames, "name", nil, "artifact names to publish (default: all of the run)")

	artifactsCmd.AddCommand(artifactsListCmd, artifactsPruneCmd, artifactsPublishCmd)
	rootCmd.AddCommand(artifactsCmd)
}
