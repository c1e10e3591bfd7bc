package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/dag"
)

// NewGraphCommand creates the graph command.
func NewGraphCommand() *cobra.Command {
	var (
		asJSON     bool
		downstream []string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the column dependency graph",
		Long: `Display which computed columns depend on which columns.

An edge source -> dependent means a change to source re-runs dependent.
Cycles are reported but not rejected.`,
		Example: `  # Show all edges
  bookcalc graph

  # Show everything a change to price recomputes
  bookcalc graph --downstream price`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			g := dag.Build(cmdCtx.Registry.Snapshot().Columns)
			hasCycle, cycle := g.HasCycle()

			if len(downstream) > 0 {
				ids := g.Downstream(downstream)
				if asJSON {
					return renderJSON(cmdCtx.Out, ids)
				}
				for _, id := range ids {
					_, _ = fmt.Fprintln(cmdCtx.Out, id)
				}
				return nil
			}

			if asJSON {
				return renderJSON(cmdCtx.Out, map[string]any{
					"edges":    g.Edges(),
					"hasCycle": hasCycle,
					"cycle":    cycle,
				})
			}

			t := newTable(cmdCtx.Out, "Source", "Dependent")
			for _, e := range g.Edges() {
				t.AppendRow([]any{e.Source, e.Dependent})
			}
			t.AppendFooter([]any{fmt.Sprintf("%d edges", g.EdgeCount()), ""})
			t.Render()

			if hasCycle {
				_, _ = fmt.Fprintf(cmdCtx.Out, "warning: cycle %s\n", strings.Join(cycle, " -> "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().StringSliceVar(&downstream, "downstream", nil, "List columns recomputed after a change to these columns")
	return cmd
}
