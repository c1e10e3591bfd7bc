package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// NewColumnsCommand creates the columns command.
func NewColumnsCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "columns",
		Short: "List the column registry",
		Long: `List every column of the registry in display order, with the function
and argument bindings of computed columns.`,
		Example: `  # Show the registry
  bookcalc columns

  # Output as JSON
  bookcalc columns --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			snap := cmdCtx.Registry.Snapshot()
			if asJSON {
				return renderJSON(cmdCtx.Out, snap.Columns)
			}

			t := newTable(cmdCtx.Out, "#", "ID", "Name", "Type", "Function", "Arguments")
			for _, c := range snap.Columns {
				t.AppendRow([]any{c.Order, c.ID, c.Name, c.DataType, c.Function, formatArguments(c.Arguments)})
			}
			t.AppendFooter([]any{"", fmt.Sprintf("%d columns", len(snap.Columns))})
			t.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func formatArguments(args []core.ArgumentBinding) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case len(a.ColumnReferences) > 0:
			parts = append(parts, fmt.Sprintf("%s=[%s]", a.Name, strings.Join(a.ColumnReferences, ", ")))
		case a.ColumnReference != "":
			parts = append(parts, a.Name+"="+a.ColumnReference)
		default:
			parts = append(parts, a.Name+"="+formatValue(a.Value))
		}
	}
	return strings.Join(parts, ", ")
}
