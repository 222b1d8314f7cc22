package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/ConceptGuard/internal/application/extraction"
	"github.com/turtacn/ConceptGuard/internal/intelligence/evaluation"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// scoreTable renders the overall and per-document scores.
type scoreTable struct {
	*evaluation.RunResult
}

func (t scoreTable) TableHeaders() []string {
	return []string{"DOCUMENT", "EXACT_P", "EXACT_R", "EXACT_F1", "PARTIAL_F1", "TYPE_ACC", "PREDICTED", "GOLD"}
}

func (t scoreTable) TableRows() [][]string {
	row := func(id string, r evaluation.Report) []string {
		return []string{
			id,
			fmt.Sprintf("%.3f", r.ExactMatch.Precision),
			fmt.Sprintf("%.3f", r.ExactMatch.Recall),
			fmt.Sprintf("%.3f", r.ExactMatch.F1),
			fmt.Sprintf("%.3f", r.PartialMatch.F1),
			fmt.Sprintf("%.3f", r.TypeAccuracy.Accuracy),
			fmt.Sprintf("%d", r.EntityCount),
			fmt.Sprintf("%d", r.GoldCount),
		}
	}
	rows := make([][]string, 0, len(t.Documents)+1)
	for _, d := range t.Documents {
		rows = append(rows, row(d.ID, d.Report))
	}
	return append(rows, row("OVERALL", t.Overall))
}

// NewEvaluateCmd creates the evaluate command.
func NewEvaluateCmd() *cobra.Command {
	var (
		file  string
		flags extractFlags
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score extraction against annotated documents",
		Long: "Reads a JSON array or JSON lines of {id, text, gold} documents, runs the\n" +
			"pipeline on each text and reports exact, partial and type scores.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}

			var r io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return errors.Wrapf(err, errors.ErrCodeBadRequest, "open %s", file)
				}
				defer f.Close()
				r = f
			}
			docs, err := evaluation.ReadDocuments(r)
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(cmd, cliCtx)
			defer cancel()
			rt, err := cliCtx.Runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			run, err := rt.Service.Evaluate(ctx, &extraction.EvaluateInput{Documents: docs, Overrides: flags.overrides(cmd)})
			if err != nil {
				return err
			}
			return PrintResult(cmd, scoreTable{run})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "annotated dataset (default: stdin)")
	flags.register(cmd)
	return cmd
}
