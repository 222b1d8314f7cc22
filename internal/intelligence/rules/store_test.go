package rules

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// memSource serves rule tables from memory.
type memSource struct {
	files   map[string]string
	openErr error
}

func (m *memSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	body, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", name, fs.ErrNotExist)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m *memSource) Describe() string { return "mem://test" }

func buildTestdata(t *testing.T, policy RequiresValuePolicy) *Store {
	t.Helper()
	opts := DefaultOptions()
	opts.Policy = policy
	s, err := Build(context.Background(), NewFileSource("testdata"), opts)
	require.NoError(t, err)
	return s
}

func TestBuild_FromFiles(t *testing.T) {
	s := buildTestdata(t, PolicyOverride)

	info := s.Info()
	assert.Equal(t, "file://testdata", info.Source)
	assert.Equal(t, 8, info.Rows)
	assert.Equal(t, 1, info.Skipped)
	assert.Equal(t, 6, info.Concepts)
	assert.Equal(t, 3, info.Ranges)
	assert.Equal(t, 2, info.Overrides)
	assert.Equal(t, 2, info.Hints)
	assert.Equal(t, 6, s.Len())
}

func TestBuild_AggregatesRows(t *testing.T) {
	s := buildTestdata(t, PolicyOverride)

	hr, ok := s.Lookup("c0018810")
	require.True(t, ok)
	assert.Equal(t, "Heart rate", hr.Keyword)
	assert.Equal(t, "CL01", hr.ClusterID)
	assert.Equal(t, "Vital signs", hr.ClusterTitle)
	assert.Equal(t, []string{"internal", "numerical"}, hr.Sources)
	assert.True(t, hr.IsNumeric)
	assert.True(t, hr.RequiresValue)
	assert.Equal(t, []Range{{30, 220}}, hr.NumericRanges)
	assert.Equal(t, []string{"heart rate bpm", "hr", "pulse"}, hr.Terms)
	assert.Equal(t, StrategyNumeric, hr.Strategy)
}

func TestBuild_DerivedFields(t *testing.T) {
	s := buildTestdata(t, PolicyOverride)

	bmi, _ := s.Lookup("C1305855")
	require.NotNil(t, bmi)
	assert.Equal(t, "body mass index bmi", bmi.NormalizedKeyword)
	assert.Equal(t, []Range{{10, 60}}, bmi.NumericRanges, "malformed pair skipped")
	assert.Nil(t, bmi.RequiredComponents)

	tmp, _ := s.Lookup("C0039476")
	require.NotNil(t, tmp)
	assert.Equal(t, []Range{{0, 1000}}, tmp.NumericRanges, "falls back to the cluster title")

	smk, _ := s.Lookup("C1519384")
	require.NotNil(t, smk)
	assert.Equal(t, []string{"(?i)current smoker", "(?i)ex smoker.*?quit", "(?i)never smoked"}, smk.PatternStrings())
	assert.Equal(t, StrategyPattern, smk.Strategy)
	assert.Nil(t, smk.NumericRanges)

	nv, _ := s.Lookup("C0027498")
	require.NotNil(t, nv)
	assert.False(t, nv.RequiresValue)
	assert.Equal(t, []string{"nausea", "vomiting"}, nv.RequiredComponents)
	assert.Equal(t, StrategyPassThrough, nv.Strategy)

	cp, _ := s.Lookup("C0008031")
	require.NotNil(t, cp)
	assert.False(t, cp.RequiresValue)
	assert.True(t, cp.ShouldEnforceSurface())
}

func TestBuild_ClusterTitlePolicy(t *testing.T) {
	s := buildTestdata(t, PolicyClusterTitle)
	assert.Equal(t, PolicyClusterTitle, s.Info().Policy)

	smk, _ := s.Lookup("C1519384")
	require.NotNil(t, smk)
	assert.True(t, smk.RequiresValue, "cluster title mentions string")

	cp, _ := s.Lookup("C0008031")
	require.NotNil(t, cp)
	assert.False(t, cp.RequiresValue, "overrides still win")
}

func TestBuild_CombinedHints(t *testing.T) {
	s := buildTestdata(t, PolicyOverride)
	matches := s.Hints().FindMatches("please check her fasting sugar; blood pressure stable")
	require.Len(t, matches, 2)
	assert.Equal(t, "C0428568", matches[0].ConceptID)
	assert.Equal(t, "C0005823", matches[1].ConceptID)
}

func TestBuild_RulesSorted(t *testing.T) {
	s := buildTestdata(t, PolicyOverride)
	var ids []string
	for _, r := range s.Rules() {
		ids = append(ids, r.ConceptID)
	}
	assert.Equal(t, []string{"C0008031", "C0018810", "C0027498", "C0039476", "C1305855", "C1519384"}, ids)
}

func TestBuild_MissingRowsTableGivesEmptyStore(t *testing.T) {
	s, err := Build(context.Background(), &memSource{files: map[string]string{}}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.Hints().Len())
	assert.Equal(t, "mem://test", s.Info().Source)
}

func TestBuild_MalformedSideTablesIgnored(t *testing.T) {
	src := &memSource{files: map[string]string{
		"internal.csv":                 "source,keyword,concept_id,cluster_id\nnumerical,Heart rate,HR,CL1\ninternal,Chest pain,CP,CL2\n",
		"numerical_model.json":         "{ not json",
		"hc.yaml":                      "ft_value_without_hint_by_keyword: [",
		"internal_combined_hints.json": "{]",
	}}
	s, err := Build(context.Background(), src, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	hr, _ := s.Lookup("HR")
	require.NotNil(t, hr)
	assert.Nil(t, hr.NumericRanges)

	cp, _ := s.Lookup("CP")
	require.NotNil(t, cp)
	assert.True(t, cp.RequiresValue, "no overrides loaded")
	assert.Equal(t, StrategyUnsatisfiable, cp.Strategy)
	assert.Equal(t, 0, s.Hints().Len())
}

func TestBuild_OnlyRowsTable(t *testing.T) {
	src := &memSource{files: map[string]string{
		"internal.csv": "source,keyword,concept_id\ninternal,A,X\n",
	}}
	s, err := Build(context.Background(), src, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestBuild_SourceUnavailable(t *testing.T) {
	src := &memSource{openErr: errors.New("connection refused")}
	_, err := Build(context.Background(), src, DefaultOptions())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeRulesSourceUnavailable))
}

func TestStore_NilSafe(t *testing.T) {
	var s *Store
	_, ok := s.Lookup("X")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Rules())
	assert.NotNil(t, s.Hints())
	assert.Equal(t, Info{}, s.Info())
}

func TestNewStore_FirstNonEmptyFieldsWin(t *testing.T) {
	s := NewStore(Tables{Rows: []Row{
		{Source: "internal", ConceptID: "x1"},
		{Source: "internal", ConceptID: "X1", Keyword: "First", ClusterTitle: "T1"},
		{Source: "extra", ConceptID: " x1 ", Keyword: "Second", ClusterID: "K", ClusterTitle: "T2", DataValue: "v|w"},
	}}, "", nil)

	r, ok := s.Lookup("X1")
	require.True(t, ok)
	assert.Equal(t, "First", r.Keyword)
	assert.Equal(t, "K", r.ClusterID)
	assert.Equal(t, "T1", r.ClusterTitle)
	assert.Equal(t, []string{"extra", "internal"}, r.Sources)
	assert.Len(t, r.ValuePatterns, 2)
	assert.Equal(t, PolicyOverride, s.Info().Policy)
}
