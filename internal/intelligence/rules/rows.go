package rules

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// Row is one line of the concept rule table. Several rows may share a
// ConceptID; they are aggregated by Build.
type Row struct {
	Source       string `json:"source"`
	Keyword      string `json:"keyword"`
	ConceptID    string `json:"concept_id"`
	ClusterID    string `json:"cluster_id"`
	ClusterTitle string `json:"cluster_title"`
	KeywordHints string `json:"keyword_hints"`
	DataValue    string `json:"data_value"`
	DataHints    string `json:"data_hints"`
}

// Column names accepted in the header. The legacy export uses uid/cluster.
var headerAliases = map[string]string{
	"uid":     "concept_id",
	"cui":     "concept_id",
	"cluster": "cluster_id",
}

// ReadRows parses a CSV rule table with a header line. Unknown columns are
// ignored; records that fail to parse are skipped and logged. An empty input
// yields no rows and no error.
func ReadRows(r io.Reader, logger logging.Logger) ([]Row, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeRulesMalformed, "read rule table header")
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	field := func(rec []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				logger.Warn("skipping malformed rule row", logging.Int("line", line), logging.Err(err))
				continue
			}
			return rows, apperrors.Wrap(err, apperrors.ErrCodeRulesMalformed, "read rule table")
		}
		rows = append(rows, Row{
			Source:       field(rec, "source"),
			Keyword:      field(rec, "keyword"),
			ConceptID:    field(rec, "concept_id"),
			ClusterID:    field(rec, "cluster_id"),
			ClusterTitle: field(rec, "cluster_title"),
			KeywordHints: field(rec, "keyword_hints"),
			DataValue:    field(rec, "data_value"),
			DataHints:    field(rec, "data_hints"),
		})
	}
	return rows, nil
}

// WriteRows writes rows with the canonical header. Used when exporting a
// store back to object storage.
func WriteRows(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"source", "keyword", "concept_id", "cluster_id", "cluster_title", "keyword_hints", "data_value", "data_hints"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.Source, r.Keyword, r.ConceptID, r.ClusterID, r.ClusterTitle, r.KeywordHints, r.DataValue, r.DataHints}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
