package client

import (
	"context"
	"net/url"
	"time"
)

// ExtractOptions overrides the server's engine settings for one request.
// Nil fields keep the server defaults.
type ExtractOptions struct {
	MinConfidence       *float64 `json:"min_confidence,omitempty"`
	EnableRestoration   *bool    `json:"enable_restoration,omitempty"`
	EnableCombinedHints *bool    `json:"enable_combined_hints,omitempty"`
}

// ValueHint is a value found near an entity that satisfied its rule.
type ValueHint struct {
	RuleKeyword string      `json:"rule_keyword"`
	Type        string      `json:"type"`
	Value       interface{} `json:"value"`
	MatchedText string      `json:"matched_text,omitempty"`
	Pattern     string      `json:"pattern,omitempty"`
	Start       int         `json:"start"`
	End         int         `json:"end"`
}

// Entity is one validated concept occurrence. Offsets are byte offsets.
type Entity struct {
	Key          interface{} `json:"key"`
	ConceptID    string      `json:"concept_id"`
	Start        int         `json:"start"`
	End          int         `json:"end"`
	DetectedName string      `json:"detected_name"`
	SourceValue  string      `json:"source_value"`
	PrettyName   string      `json:"pretty_name"`
	Confidence   float64     `json:"confidence"`
	TypeIDs      []string    `json:"type_ids"`
	ValueHints   []ValueHint `json:"value_hints,omitempty"`
	Synthetic    bool        `json:"synthetic,omitempty"`
}

// HintMatch is one combined-hint match.
type HintMatch struct {
	ConceptID   string `json:"concept_id"`
	Name        string `json:"name"`
	SourceHint  string `json:"source_hint"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	MatchedText string `json:"matched_text"`
}

// ExtractResult is the response of Extract.
type ExtractResult struct {
	Entities            []Entity    `json:"entities"`
	CombinedHintMatches []HintMatch `json:"combined_hint_matches"`
	MissingConcepts     []string    `json:"missing_concepts"`
	Restored            []string    `json:"restored"`
	ProcessingTimeMs    int64       `json:"processing_time_ms"`
}

// Annotation is one gold span of an evaluation document.
type Annotation struct {
	ConceptID string   `json:"cui"`
	Start     int      `json:"start"`
	End       int      `json:"end"`
	TypeIDs   []string `json:"type_ids,omitempty"`
}

// Document is an annotated evaluation document.
type Document struct {
	ID   string       `json:"id"`
	Text string       `json:"text"`
	Gold []Annotation `json:"gold"`
}

// Scores are span-level precision, recall and F1.
type Scores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
}

// Report is the evaluation of a document set.
type Report struct {
	ExactMatch   Scores `json:"exact_match"`
	PartialMatch Scores `json:"partial_match"`
	EntityCount  int    `json:"entity_count"`
	GoldCount    int    `json:"gold_count"`
}

// EvaluationResult is the response of Evaluate.
type EvaluationResult struct {
	Overall   Report `json:"overall"`
	Documents []struct {
		ID     string `json:"id"`
		Report Report `json:"report"`
	} `json:"documents"`
}

// RulesInfo describes the server's active rule store.
type RulesInfo struct {
	Source    string    `json:"source"`
	LoadedAt  time.Time `json:"loaded_at"`
	Policy    string    `json:"policy"`
	Rows      int       `json:"rows"`
	Skipped   int       `json:"skipped_rows"`
	Concepts  int       `json:"concepts"`
	Ranges    int       `json:"range_entries"`
	Overrides int       `json:"override_ids"`
	Hints     int       `json:"combined_hints"`
}

// Rule is the validation rule of one concept.
type Rule struct {
	ConceptID          string   `json:"concept_id"`
	Keyword            string   `json:"keyword"`
	ClusterID          string   `json:"cluster_id"`
	ClusterTitle       string   `json:"cluster_title"`
	Sources            []string `json:"sources"`
	RequiresValue      bool     `json:"requires_value"`
	IsNumeric          bool     `json:"is_numeric"`
	RequiredComponents []string `json:"required_components,omitempty"`
	Terms              []string `json:"terms,omitempty"`
	Strategy           string   `json:"strategy"`
}

// Health is the readiness report of the server.
type Health struct {
	Status     string `json:"status"`
	Components map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Error   string `json:"error,omitempty"`
	} `json:"components,omitempty"`
}

type extractRequest struct {
	Text string `json:"text"`
	ExtractOptions
}

type batchRequest struct {
	Texts []string `json:"texts"`
	ExtractOptions
}

type evaluateRequest struct {
	Documents []Document `json:"documents"`
	ExtractOptions
}

// Extract validates the concepts of one text.
func (c *Client) Extract(ctx context.Context, text string, opts ExtractOptions) (*ExtractResult, error) {
	var out ExtractResult
	if err := c.post(ctx, "/api/v1/extract", extractRequest{Text: text, ExtractOptions: opts}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtractBatch validates several texts; results are in input order.
func (c *Client) ExtractBatch(ctx context.Context, texts []string, opts ExtractOptions) ([]ExtractResult, error) {
	var out struct {
		Results []ExtractResult `json:"results"`
	}
	if err := c.post(ctx, "/api/v1/extract/batch", batchRequest{Texts: texts, ExtractOptions: opts}, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Evaluate scores the server's extraction against annotated documents.
func (c *Client) Evaluate(ctx context.Context, docs []Document, opts ExtractOptions) (*EvaluationResult, error) {
	var out EvaluationResult
	if err := c.post(ctx, "/api/v1/evaluate", evaluateRequest{Documents: docs, ExtractOptions: opts}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MatchHints lists the combined-hint matches in text.
func (c *Client) MatchHints(ctx context.Context, text string) ([]HintMatch, error) {
	var out struct {
		Matches []HintMatch `json:"matches"`
	}
	if err := c.post(ctx, "/api/v1/hints/match", map[string]string{"text": text}, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// RulesInfo describes the active rule store.
func (c *Client) RulesInfo(ctx context.Context) (*RulesInfo, error) {
	var out RulesInfo
	if err := c.get(ctx, "/api/v1/rules", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRule fetches the rule of one concept.
func (c *Client) GetRule(ctx context.Context, conceptID string) (*Rule, error) {
	var out Rule
	if err := c.get(ctx, "/api/v1/rules/"+url.PathEscape(conceptID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReloadRules asks the server to rebuild its rule store. On failure the
// server keeps the previous store.
func (c *Client) ReloadRules(ctx context.Context) (*RulesInfo, error) {
	var out RulesInfo
	if err := c.post(ctx, "/api/v1/rules/reload", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready reports the server's readiness. A not-ready server yields an
// *APIError with status 503.
func (c *Client) Ready(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, "/readyz", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
