package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/ConceptGuard/internal/bootstrap"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/storage/minio"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// infoView renders rules.Info as a two-column table.
type infoView struct {
	rules.Info
}

func (v infoView) TableHeaders() []string { return []string{"FIELD", "VALUE"} }

func (v infoView) TableRows() [][]string {
	return [][]string{
		{"source", v.Source},
		{"loaded_at", v.LoadedAt.Format("2006-01-02T15:04:05Z07:00")},
		{"policy", string(v.Policy)},
		{"rows", fmt.Sprintf("%d", v.Rows)},
		{"skipped_rows", fmt.Sprintf("%d", v.Skipped)},
		{"concepts", fmt.Sprintf("%d", v.Concepts)},
		{"range_entries", fmt.Sprintf("%d", v.Ranges)},
		{"override_ids", fmt.Sprintf("%d", v.Overrides)},
		{"combined_hints", fmt.Sprintf("%d", v.Hints)},
	}
}

type ruleView struct {
	*rules.Rule
}

func (v ruleView) TableHeaders() []string { return []string{"FIELD", "VALUE"} }

func (v ruleView) TableRows() [][]string {
	ranges := make([]string, 0, len(v.NumericRanges))
	for _, r := range v.NumericRanges {
		ranges = append(ranges, fmt.Sprintf("[%g, %g]", r.Lower, r.Upper))
	}
	return [][]string{
		{"concept_id", v.ConceptID},
		{"keyword", v.Keyword},
		{"cluster", v.ClusterID + " " + v.ClusterTitle},
		{"strategy", v.Strategy.String()},
		{"requires_value", fmt.Sprintf("%t", v.RequiresValue)},
		{"numeric", fmt.Sprintf("%t", v.IsNumeric)},
		{"ranges", strings.Join(ranges, " ")},
		{"patterns", strings.Join(v.PatternStrings(), " | ")},
		{"components", strings.Join(v.RequiredComponents, ", ")},
		{"terms", strings.Join(v.Terms, ", ")},
	}
}

// NewRulesCmd creates the rules command group.
func NewRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect, check and distribute rule tables",
	}
	cmd.AddCommand(
		newRulesInspectCmd(),
		newRulesCheckCmd(),
		newRulesPublishCmd(),
		newRulesReloadCmd(),
		newRulesSeedCmd(),
	)
	return cmd
}

func newRulesInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [concept-id]",
		Short: "Show store statistics or the rule of one concept",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
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

			if len(args) == 0 {
				return PrintResult(cmd, infoView{rt.Service.RulesInfo(ctx)})
			}
			rule, err := rt.Service.GetRule(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, ruleView{rule})
		},
	}
}

// newRulesCheckCmd builds a store from local tables without connecting any
// infrastructure. It fails when no concept rule could be built.
func newRulesCheckCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Build the rule store from local tables and report statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cliCtx.Config.Rules.Dir
			}
			opts, err := bootstrap.BuildOptions(cliCtx.Config, cliCtx.Logger)
			if err != nil {
				return err
			}

			ctx, cancel := withTimeout(cmd, cliCtx)
			defer cancel()
			store, err := rules.Build(ctx, rules.NewFileSource(dir), opts)
			if err != nil {
				return err
			}
			if store.Len() == 0 {
				return errors.Newf(errors.ErrCodeRulesMalformed, "no concept rules could be built from %s", dir)
			}
			return PrintResult(cmd, infoView{store.Info()})
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "rule table directory (default: rules.dir)")
	return cmd
}

// newRulesPublishCmd uploads the local tables to the configured bucket so
// servers with rules.source=minio can load them.
func newRulesPublishCmd() *cobra.Command {
	var dir, bucket, prefix string
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload local rule tables to object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			rc := cliCtx.Config.Rules
			if dir == "" {
				dir = rc.Dir
			}
			if bucket == "" {
				bucket = rc.Bucket
			}
			if !cmd.Flags().Changed("prefix") {
				prefix = rc.Prefix
			}
			if bucket == "" {
				return errors.New(errors.ErrCodeConfigInvalid, "a bucket is required (--bucket or rules.bucket)")
			}
			opts, err := bootstrap.BuildOptions(cliCtx.Config, cliCtx.Logger)
			if err != nil {
				return err
			}

			client, err := minio.NewClient(cliCtx.Config.MinIO, "", cliCtx.Logger)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := withTimeout(cmd, cliCtx)
			defer cancel()
			store := minio.NewRuleObjectStore(client, bucket, prefix, cliCtx.Logger)
			published, err := store.Publish(ctx, dir, opts.RowsFile, opts.RangesFile, opts.OverridesFile, opts.HintsFile)
			if err != nil {
				return err
			}
			if len(published) == 0 {
				return errors.Newf(errors.ErrCodeRulesSourceUnavailable, "no rule tables found in %s", dir)
			}
			PrintSuccess(cmd, fmt.Sprintf("published %s to %s", strings.Join(published, ", "), store.Describe()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "local rule table directory (default: rules.dir)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "target bucket (default: rules.bucket)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "object key prefix (default: rules.prefix)")
	return cmd
}

func newRulesReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running server to reload its rule tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			c, err := cliCtx.Client()
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, cliCtx)
			defer cancel()
			info, err := c.ReloadRules(ctx)
			if err != nil {
				return err
			}
			return PrintResult(cmd, info)
		},
	}
}

func newRulesSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Upsert one dictionary concept per rule into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			if !cliCtx.Config.Postgres.Enabled {
				return errors.New(errors.ErrCodeConfigInvalid, "postgres.enabled must be true to seed concepts")
			}
			ctx, cancel := withTimeout(cmd, cliCtx)
			defer cancel()
			rt, err := cliCtx.Runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.Concepts == nil {
				return errors.New(errors.ErrCodeServiceUnavailable, "concept repository is not available")
			}

			n, err := rt.Concepts.SeedFromRules(ctx, rt.Holder.Current())
			if err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("seeded %d concepts", n))
			return nil
		},
	}
}
