package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/ConceptGuard/internal/application/extraction"
	"github.com/turtacn/ConceptGuard/internal/intelligence/evaluation"
	"github.com/turtacn/ConceptGuard/internal/intelligence/hints"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// ExtractionHandler serves the extraction endpoints.
type ExtractionHandler struct {
	svc extraction.Service
}

// NewExtractionHandler creates a new ExtractionHandler.
func NewExtractionHandler(svc extraction.Service) *ExtractionHandler {
	return &ExtractionHandler{svc: svc}
}

// RegisterRoutes registers the extraction routes under rg.
func (h *ExtractionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/extract", h.Extract)
	rg.POST("/extract/batch", h.ExtractBatch)
	rg.POST("/evaluate", h.Evaluate)
	rg.POST("/hints/match", h.MatchHints)
}

// OptionsRequest carries the per-request engine overrides.
type OptionsRequest struct {
	MinConfidence       *float64 `json:"min_confidence,omitempty"`
	EnableRestoration   *bool    `json:"enable_restoration,omitempty"`
	EnableCombinedHints *bool    `json:"enable_combined_hints,omitempty"`
}

func (o OptionsRequest) overrides() extraction.Overrides {
	return extraction.Overrides{
		MinConfidence:       o.MinConfidence,
		EnableRestoration:   o.EnableRestoration,
		EnableCombinedHints: o.EnableCombinedHints,
	}
}

// ExtractRequest is the body of POST /extract. Text may be empty but not
// absent.
type ExtractRequest struct {
	Text *string `json:"text"`
	OptionsRequest
}

// BatchRequest is the body of POST /extract/batch.
type BatchRequest struct {
	Texts []string `json:"texts"`
	OptionsRequest
}

// BatchResponse wraps the per-text results in input order.
type BatchResponse struct {
	Results []*validation.Result `json:"results"`
	Count   int                  `json:"count"`
}

// EvaluateRequest is the body of POST /evaluate.
type EvaluateRequest struct {
	Documents []evaluation.Document `json:"documents"`
	OptionsRequest
}

// MatchHintsRequest is the body of POST /hints/match.
type MatchHintsRequest struct {
	Text string `json:"text"`
}

// MatchHintsResponse lists combined-hint matches.
type MatchHintsResponse struct {
	Matches []hints.Match `json:"matches"`
	Count   int           `json:"count"`
}

// Extract handles POST /api/v1/extract.
func (h *ExtractionHandler) Extract(c *gin.Context) {
	var req ExtractRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Text == nil {
		writeAppError(c, errors.New(errors.ErrCodeEmptyText, "text is required"))
		return
	}

	res, err := h.svc.Extract(c.Request.Context(), &extraction.ExtractInput{Text: *req.Text, Overrides: req.overrides()})
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ExtractBatch handles POST /api/v1/extract/batch.
func (h *ExtractionHandler) ExtractBatch(c *gin.Context) {
	var req BatchRequest
	if !bindJSON(c, &req) {
		return
	}

	results, err := h.svc.ExtractBatch(c.Request.Context(), &extraction.BatchInput{Texts: req.Texts, Overrides: req.overrides()})
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, BatchResponse{Results: results, Count: len(results)})
}

// Evaluate handles POST /api/v1/evaluate.
func (h *ExtractionHandler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.svc.Evaluate(c.Request.Context(), &extraction.EvaluateInput{Documents: req.Documents, Overrides: req.overrides()})
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// MatchHints handles POST /api/v1/hints/match.
func (h *ExtractionHandler) MatchHints(c *gin.Context) {
	var req MatchHintsRequest
	if !bindJSON(c, &req) {
		return
	}
	matches := h.svc.MatchHints(c.Request.Context(), req.Text)
	c.JSON(http.StatusOK, MatchHintsResponse{Matches: matches, Count: len(matches)})
}
