package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/ConceptGuard/internal/application/extraction"
	"github.com/turtacn/ConceptGuard/internal/intelligence/hints"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// extractFlags are shared by extract, batch and evaluate.
type extractFlags struct {
	minConfidence   float64
	noRestoration   bool
	noCombinedHints bool
}

func (f *extractFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.minConfidence, "min-confidence", -1, "override the minimum confidence in [0, 1]")
	cmd.Flags().BoolVar(&f.noRestoration, "no-restoration", false, "disable restoration of missed concepts")
	cmd.Flags().BoolVar(&f.noCombinedHints, "no-combined-hints", false, "disable combined-hint matching")
}

// overrides only sets the fields whose flags were given.
func (f *extractFlags) overrides(cmd *cobra.Command) extraction.Overrides {
	var o extraction.Overrides
	if cmd.Flags().Changed("min-confidence") {
		v := f.minConfidence
		o.MinConfidence = &v
	}
	if f.noRestoration {
		v := false
		o.EnableRestoration = &v
	}
	if f.noCombinedHints {
		v := false
		o.EnableCombinedHints = &v
	}
	return o
}

// readInput returns --text when set, else the content of --file ("-" reads
// stdin), else stdin.
func readInput(cmd *cobra.Command, text, file string) (string, error) {
	if text != "" {
		return text, nil
	}
	var r io.Reader = cmd.InOrStdin()
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return "", errors.Wrapf(err, errors.ErrCodeBadRequest, "open %s", file)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeBadRequest, "read input")
	}
	return string(data), nil
}

// readLines splits input into non-blank lines, one document each.
func readLines(cmd *cobra.Command, file string) ([]string, error) {
	var r io.Reader = cmd.InOrStdin()
	if file != "" && file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrCodeBadRequest, "open %s", file)
		}
		defer f.Close()
		r = f
	}
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "read input")
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// extract
// ─────────────────────────────────────────────────────────────────────────────

// entityTable renders extraction results one entity per row.
type entityTable []*validation.Result

func (t entityTable) TableHeaders() []string {
	return []string{"DOC", "CONCEPT", "SPAN", "NAME", "SOURCE", "CONFIDENCE", "VALUES"}
}

func (t entityTable) TableRows() [][]string {
	var rows [][]string
	for i, res := range t {
		if res == nil {
			continue
		}
		for _, e := range res.Entities {
			name := e.DetectedName
			if e.Synthetic {
				name += " (restored)"
			}
			rows = append(rows, []string{
				fmt.Sprintf("%d", i),
				e.ConceptID,
				fmt.Sprintf("%d-%d", e.Start, e.End),
				name,
				e.SourceValue,
				fmt.Sprintf("%.2f", e.Confidence),
				fmt.Sprintf("%d", len(e.ValueHints)),
			})
		}
	}
	return rows
}

// NewExtractCmd creates the extract command.
func NewExtractCmd() *cobra.Command {
	var (
		text  string
		file  string
		flags extractFlags
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract validated concepts from one document",
		Example: `  conceptguard extract --text "blood pressure 120/80"
  conceptguard extract --file note.txt -o table
  cat note.txt | conceptguard extract`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			input, err := readInput(cmd, text, file)
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

			res, err := rt.Service.Extract(ctx, &extraction.ExtractInput{Text: input, Overrides: flags.overrides(cmd)})
			if err != nil {
				return err
			}
			if strings.ToLower(cliCtx.OutputFormat) == "table" {
				return PrintResult(cmd, entityTable{res})
			}
			return PrintResult(cmd, res)
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "document text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the document from a file (- for stdin)")
	flags.register(cmd)
	return cmd
}

// NewBatchCmd creates the batch command. Each non-blank input line is one
// document.
func NewBatchCmd() *cobra.Command {
	var (
		file  string
		flags extractFlags
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Extract concepts from many documents, one per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			texts, err := readLines(cmd, file)
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

			results, err := rt.Service.ExtractBatch(ctx, &extraction.BatchInput{Texts: texts, Overrides: flags.overrides(cmd)})
			if err != nil {
				return err
			}
			if strings.ToLower(cliCtx.OutputFormat) == "table" {
				return PrintResult(cmd, entityTable(results))
			}
			return PrintResult(cmd, results)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "input file with one document per line (default: stdin)")
	flags.register(cmd)
	return cmd
}

// ─────────────────────────────────────────────────────────────────────────────
// hints
// ─────────────────────────────────────────────────────────────────────────────

type hintTable []hints.Match

func (t hintTable) TableHeaders() []string {
	return []string{"CONCEPT", "NAME", "SPAN", "MATCHED", "HINT"}
}

func (t hintTable) TableRows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, m := range t {
		rows = append(rows, []string{m.ConceptID, m.Name, fmt.Sprintf("%d-%d", m.Start, m.End), m.MatchedText, m.SourceHint})
	}
	return rows
}

// NewHintsCmd creates the hints command group.
func NewHintsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hints",
		Short: "Inspect combined-hint matching",
	}

	var text, file string
	match := &cobra.Command{
		Use:   "match",
		Short: "Run only the combined-hint matcher over a document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			input, err := readInput(cmd, text, file)
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

			return PrintResult(cmd, hintTable(rt.Service.MatchHints(ctx, input)))
		},
	}
	match.Flags().StringVarP(&text, "text", "t", "", "document text")
	match.Flags().StringVarP(&file, "file", "f", "", "read the document from a file (- for stdin)")
	cmd.AddCommand(match)
	return cmd
}
