// Package worker adapts the extraction service to Kafka document events.
package worker

import (
	"context"
	"strings"
	"time"

	"github.com/turtacn/ConceptGuard/internal/application/extraction"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ConceptGuard/internal/intelligence/validation"
	"github.com/turtacn/ConceptGuard/pkg/errors"
)

// SourceName identifies events emitted by the worker.
const SourceName = "conceptguard-worker"

// DocumentSubmitted is the payload of a document.submitted event. Text is a
// pointer so an absent field can be told apart from an empty document.
type DocumentSubmitted struct {
	DocumentID          string   `json:"document_id"`
	Text                *string  `json:"text"`
	MinConfidence       *float64 `json:"min_confidence,omitempty"`
	EnableRestoration   *bool    `json:"enable_restoration,omitempty"`
	EnableCombinedHints *bool    `json:"enable_combined_hints,omitempty"`
}

// DocumentExtracted is the payload of a document.extracted event.
type DocumentExtracted struct {
	DocumentID string             `json:"document_id"`
	Result     *validation.Result `json:"result"`
}

// DocumentFailed is the payload of a document.failed event.
type DocumentFailed struct {
	DocumentID string `json:"document_id"`
	Code       string `json:"code"`
	Error      string `json:"error"`
}

// DocumentHandler extracts submitted documents and publishes the results.
type DocumentHandler struct {
	svc         extraction.Service
	publisher   kafka.Publisher
	outputTopic string
	logger      logging.Logger
}

// NewDocumentHandler creates a handler publishing to outputTopic.
func NewDocumentHandler(svc extraction.Service, publisher kafka.Publisher, outputTopic string, logger logging.Logger) *DocumentHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if outputTopic == "" {
		outputTopic = kafka.TopicResults
	}
	return &DocumentHandler{
		svc:         svc,
		publisher:   publisher,
		outputTopic: outputTopic,
		logger:      logger.Named("document_handler"),
	}
}

// Handle processes one document.submitted message. Events of other types are
// ignored. Malformed events return an invalid-request error, which the
// consumer dead-letters without retrying. A document without text is
// answered with a document.failed event.
func (h *DocumentHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		return err
	}
	if env.EventType != kafka.EventDocumentSubmitted {
		h.logger.Debug("ignoring event", logging.String("event_type", env.EventType), logging.String("event_id", env.EventID))
		return nil
	}
	if env.TraceID != "" {
		ctx = logging.ContextWithRequestID(ctx, env.TraceID)
	}
	log := h.logger.WithContext(ctx)

	var doc DocumentSubmitted
	if err := env.DecodePayload(&doc); err != nil {
		return err
	}
	doc.DocumentID = strings.TrimSpace(doc.DocumentID)
	if doc.DocumentID == "" {
		return errors.New(errors.ErrCodeInvalidRequest, "document_id is required")
	}
	if doc.Text == nil {
		failed := errors.Newf(errors.ErrCodeEmptyText, "document %s has no text", doc.DocumentID)
		log.Warn("document without text", logging.String("document_id", doc.DocumentID))
		return h.publish(ctx, env, kafka.EventDocumentFailed, doc.DocumentID, DocumentFailed{
			DocumentID: doc.DocumentID,
			Code:       failed.Code.String(),
			Error:      failed.Error(),
		})
	}

	start := time.Now()
	res, err := h.svc.Extract(ctx, &extraction.ExtractInput{
		Text: *doc.Text,
		Overrides: extraction.Overrides{
			MinConfidence:       doc.MinConfidence,
			EnableRestoration:   doc.EnableRestoration,
			EnableCombinedHints: doc.EnableCombinedHints,
		},
	})
	if err != nil {
		return err
	}

	if err := h.publish(ctx, env, kafka.EventDocumentExtracted, doc.DocumentID, DocumentExtracted{
		DocumentID: doc.DocumentID,
		Result:     res,
	}); err != nil {
		return err
	}
	log.Info("document extracted",
		logging.String("document_id", doc.DocumentID),
		logging.Int("entities", len(res.Entities)),
		logging.Duration("elapsed", time.Since(start)))
	return nil
}

func (h *DocumentHandler) publish(ctx context.Context, req *kafka.EventEnvelope, eventType, documentID string, payload interface{}) error {
	out, err := kafka.NewEventEnvelope(eventType, SourceName, payload)
	if err != nil {
		return err
	}
	out.TraceID = req.TraceID
	out.Metadata = map[string]string{"request_event_id": req.EventID}

	msg, err := out.ToMessage(h.outputTopic, []byte(documentID))
	if err != nil {
		return err
	}
	return h.publisher.Publish(ctx, msg)
}
