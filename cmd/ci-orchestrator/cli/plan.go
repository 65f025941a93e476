package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/davarch/ci-orchestrator/internal/domain"
	"github.com/davarch/ci-orchestrator/internal/infrastructure/config"
	"github.com/davarch/ci-orchestrator/internal/plan"
	"github.com/davarch/ci-orchestrator/internal/trigger"
)

var (
	planEvent eventFlags
	planJSON  bool
)

type planNode struct {
	ID        string   `json:"id"`
	Job       string   `json:"job"`
	Stage     string   `json:"stage,omitempty"`
	When      string   `json:"when,omitempty"`
	Depth     int      `json:"depth"`
	DependsOn []string `json:"depends_on"`
	NeededBy  []string `json:"needed_by"`
	// Blocks counts the instances that cannot start before this one ends.
	Blocks int `json:"blocks"`
}

type planOut struct {
	Workflow  string     `json:"workflow"`
	Path      string     `json:"path"`
	Triggered bool       `json:"triggered"`
	Nodes     []planNode `json:"nodes"`
	Error     string     `json:"error,omitempty"`
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which jobs an event would run and in what order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ev, err := planEvent.event()
		if err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		wfs, loadErr := loadWorkflows(cfg)
		if loadErr != nil {
			_, _ = fmt.Fprintln(os.Stderr, loadErr)
		}

		vars := trigger.PredefinedVariables(ev)
		out := make([]planOut, 0, len(wfs))
		for _, wf := range wfs {
			o := planOut{Workflow: wf.Name, Path: wf.Path, Nodes: []planNode{}}
			p, err := plan.Build(wf, ev, vars)
			if err != nil {
				o.Error = err.Error()
				out = append(out, o)
				continue
			}
			o.Triggered = p.Triggered
			o.Nodes = describe(p)
			out = append(out, o)
		}

		if planJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		printPlans(ev, out)
		return nil
	},
}

func describe(p *plan.Plan) []planNode {
	if p.Graph == nil {
		return []planNode{}
	}
	var out []planNode
	for _, id := range p.Graph.TopologicalOrder() {
		n, _ := p.Node(id)
		depth, _ := p.Graph.Depth(id)
		out = append(out, planNode{
			ID:        id,
			Job:       n.Job.Name,
			Stage:     n.Job.Stage,
			When:      n.When,
			Depth:     depth,
			DependsOn: p.Graph.Dependencies(id),
			NeededBy:  p.Graph.Dependents(id),
			Blocks:    len(p.Graph.Downstream(id)),
		})
	}
	return out
}

func printPlans(ev domain.Event, plans []planOut) {
	fmt.Printf("event %s on %s\n\n", ev.Kind, ev.Ref)
	for _, p := range plans {
		switch {
		case p.Error != "":
			fmt.Printf("%s (%s): error: %s\n\n", p.Workflow, p.Path, p.Error)
			continue
		case !p.Triggered:
			fmt.Printf("%s (%s): not triggered\n\n", p.Workflow, p.Path)
			continue
		}
		fmt.Printf("%s (%s): %d jobs\n", p.Workflow, p.Path, len(p.Nodes))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "  JOB\tSTAGE\tWHEN\tLEVEL\tAFTER\tBLOCKS")
		for _, n := range p.Nodes {
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\t%d\n",
				n.ID, dash(n.Stage), dash(n.When), n.Depth, dash(strings.Join(n.DependsOn, ", ")), n.Blocks)
		}
		_ = w.Flush()
		fmt.Println()
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	planEvent.register(planCmd)
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print JSON")
	rootCmd.AddCommand(planCmd)
}
