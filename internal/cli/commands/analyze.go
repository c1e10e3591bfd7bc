package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/functions"
)

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze <file.star>",
		Short: "Show the entry function and parameters of a function file",
		Long: `Parse a function file and report its entry function, parameter list and
every public function it defines. The file is not executed.`,
		Example: `  bookcalc analyze functions/total.star`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			analysis, err := functions.Analyze(filepath.Base(args[0]), content)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return renderJSON(out, analysis)
			}

			entry := analysis.Entry
			_, _ = fmt.Fprintf(out, "entry: %s\n", entry.Signature())
			if entry.Docstring != "" {
				_, _ = fmt.Fprintf(out, "doc:   %s\n", entry.Docstring)
			}

			t := newTable(out, "Parameter", "Default", "Required")
			for _, p := range analysis.Params() {
				t.AppendRow([]any{p.Name, p.Default, p.Required()})
			}
			t.Render()

			if len(analysis.Functions) > 1 {
				ft := newTable(out, "Function", "Line")
				for _, fn := range analysis.Functions {
					ft.AppendRow([]any{fn.Signature(), fn.Line})
				}
				ft.Render()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
