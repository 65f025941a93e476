package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
)

var enableCmd = &cobra.Command{
	Use:               "enable <workflow>",
	Short:             "Enable a workflow by name or path in config.yaml",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeWorkflows,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(args[0], true)
	},
}

var disableCmd = &cobra.Command{
	Use:               "disable <workflow>",
	Short:             "Disable a workflow by name or path in config.yaml",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeWorkflows,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(args[0], false)
	},
}

func setEnabled(key string, enabled bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	verb := "disabled"
	if enabled {
		verb = "enabled"
	}

	found, changed := false, false
	for i := range cfg.Workflows {
		w := &cfg.Workflows[i]
		if w.Name != key && w.Path != key {
			continue
		}
		found = true
		if w.Enabled != enabled {
			w.Enabled = enabled
			changed = true
		}
	}

	if !found {
		return fmt.Errorf("workflow %q is not in %s", key, cfgPath)
	}
	if !changed {
		fmt.Printf("no change (workflow %q already %s)\n", key, verb)
		return nil
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", verb, key)
	return nil
}

func completeWorkflows(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(cfg.Workflows))
	for _, w := range cfg.Workflows {
		key := w.Name
		if key == "" {
			key = w.Path
		}
		if strings.HasPrefix(key, toComplete) {
			out = append(out, key)
		}
	}

	return out, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(enableCmd, disableCmd)
}
