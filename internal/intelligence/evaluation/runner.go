package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	apperrors "github.com/turtacn/ConceptGuard/pkg/errors"
)

// Document is one annotated text of an evaluation dataset.
type Document struct {
	ID   string       `json:"id"`
	Text string       `json:"text"`
	Gold []Annotation `json:"gold"`
}

// DocumentReport is the evaluation of a single document.
type DocumentReport struct {
	ID     string `json:"id"`
	Report Report `json:"report"`
}

// RunResult aggregates a dataset run.
type RunResult struct {
	Overall   Report           `json:"overall"`
	Documents []DocumentReport `json:"documents"`
}

// ReadDocuments parses either a JSON array of documents or a stream of JSON
// objects (one per line).
func ReadDocuments(r io.Reader) ([]Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "read evaluation dataset")
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var docs []Document
	if data[0] == '[' {
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeBadRequest, "decode evaluation dataset")
		}
		return docs, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var d Document
		if err := dec.Decode(&d); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeBadRequest, "decode evaluation document %d", len(docs)+1)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// Run extracts every document with engine and scores the output against the
// gold annotations. Per-document reports keep dataset order.
func Run(ctx context.Context, engine validation.Engine, docs []Document, opts ...validation.ExtractOption) (*RunResult, error) {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	results, err := engine.ExtractBatch(ctx, texts, opts...)
	if err != nil {
		return nil, err
	}

	out := &RunResult{Documents: make([]DocumentReport, 0, len(docs))}
	var total Accumulator
	for i, d := range docs {
		predicted := FromEntities(results[i].Entities)
		var one Accumulator
		if err := one.Add(predicted, d.Gold); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "document %q", d.ID)
		}
		_ = total.Add(predicted, d.Gold)
		out.Documents = append(out.Documents, DocumentReport{ID: d.ID, Report: one.Report()})
	}
	out.Overall = total.Report()
	return out, nil
}
