package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/ConceptGuard/internal/application/extraction"
	"github.com/turtacn/ConceptGuard/internal/config"
	"github.com/turtacn/ConceptGuard/internal/intelligence/rules"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

const testRows = "source,keyword,concept_id,cluster_id,cluster_title\n" +
	"numerical,Heart rate,HR,CL1,Vital signs\n" +
	"internal,Chest pain,CP,CL2,Symptoms\n"

func writeRules(t *testing.T, dir, rows string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "internal.csv"), []byte(rows), 0o644))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	writeRules(t, dir, testRows)
	cfg := config.DefaultConfig()
	cfg.Rules.Dir = dir
	cfg.Server.MaxBatchSize = 2
	return cfg
}

func TestNew_FileSource(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(context.Background(), cfg, nil, WithoutWatch())
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, "file://"+cfg.Rules.Dir, rt.RuleSource.Describe())
	assert.Equal(t, 2, rt.Holder.Current().Len())
	assert.Positive(t, rt.Recognizer.Len())
	assert.Nil(t, rt.Postgres)
	assert.Nil(t, rt.Redis)
	assert.Nil(t, rt.MinIO)

	rule, err := rt.Service.GetRule(context.Background(), "hr")
	require.NoError(t, err)
	assert.Equal(t, "Heart rate", rule.Keyword)

	_, err = rt.Service.ExtractBatch(context.Background(), &extraction.BatchInput{Texts: []string{"a", "b", "c"}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeBatchTooLarge))
}

func TestNew_ReloadPicksUpChanges(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(context.Background(), cfg, nil, WithoutWatch())
	require.NoError(t, err)
	defer rt.Close()

	writeRules(t, cfg.Rules.Dir, testRows+"internal,Fever,FV,CL2,Symptoms\n")
	info, err := rt.Service.ReloadRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, info.Concepts)

	// The recognizer follows the holder.
	found, err := rt.Recognizer.GetEntities(context.Background(), "patient reports fever")
	require.NoError(t, err)
	var ids []string
	for _, e := range found {
		ids = append(ids, e.ConceptID)
	}
	assert.Contains(t, ids, "FV")
}

func TestNew_MissingRowsTableYieldsEmptyStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rules.Dir = t.TempDir()

	rt, err := New(context.Background(), cfg, nil, WithoutWatch())
	require.NoError(t, err)
	defer rt.Close()
	assert.Equal(t, 0, rt.Holder.Current().Len())
}

func TestNew_InjectedSourceAndLookup(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rules.Source = "minio"

	src := rules.NewFileSource(cfg.Rules.Dir)
	rt, err := New(context.Background(), cfg, nil,
		WithRuleSource(src),
		WithConceptLookup(validation.MapConceptLookup{"HR": {PreferredName: "Heart rate"}}),
		WithoutWatch(),
	)
	require.NoError(t, err)
	defer rt.Close()
	assert.Same(t, src, rt.RuleSource)
	assert.Nil(t, rt.MinIO)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))

	cfg := testConfig(t)
	cfg.Engine.RequiresValuePolicy = "sometimes"
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Metrics.Namespace = ""
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestRuleSource(t *testing.T) {
	src, err := RuleSource(config.RulesConfig{Source: "file", Dir: "data/rules"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "file://data/rules", src.Describe())

	_, err = RuleSource(config.RulesConfig{Source: "minio", Bucket: "rules"}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRulesSourceUnavailable))

	_, err = RuleSource(config.RulesConfig{Source: "ftp"}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.ErrCodeConfigInvalid))
}

func TestBuildOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Rules.HintsFile = "hints.json"
	cfg.Engine.RequiresValuePolicy = "cluster_title"

	opts, err := BuildOptions(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "internal.csv", opts.RowsFile)
	assert.Equal(t, "hints.json", opts.HintsFile)
	assert.Equal(t, rules.PolicyClusterTitle, opts.Policy)
}

func TestEngineConfig(t *testing.T) {
	got := EngineConfig(config.EngineConfig{
		ValueWindow:       40,
		MinConfidence:     0.3,
		EnableRestoration: true,
	})
	assert.Equal(t, 40, got.Window)
	assert.Equal(t, 0.3, got.MinConfidence)
	assert.True(t, got.EnableRestoration)
	assert.False(t, got.EnableCombinedHints)
	assert.Equal(t, validation.DefaultConfig().BatchConcurrency, got.BatchConcurrency)
}

func TestRuntime_HealthChecks(t *testing.T) {
	cfg := testConfig(t)
	rt, err := New(context.Background(), cfg, nil, WithoutWatch())
	require.NoError(t, err)
	defer rt.Close()

	checks := rt.HealthChecks()
	require.Len(t, checks, 1)
	assert.Equal(t, "rules", checks[0].Name)
	assert.NoError(t, checks[0].Check(context.Background()))

	empty := &Runtime{}
	assert.True(t, errors.IsCode(empty.HealthChecks()[0].Check(context.Background()), errors.ErrCodeRulesSourceUnavailable))
}
