package insight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/medsum/platform/internal/document"
	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/events"
	"github.com/medsum/platform/internal/shared/logger"
	"github.com/medsum/platform/internal/shared/metrics"
	"github.com/medsum/platform/internal/shared/telemetry"
	"github.com/medsum/platform/internal/shared/types"
)

// RetryPolicy controls whether failed rows may be claimed again.
type RetryPolicy struct {
	Enabled     bool
	MaxAttempts int
}

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig struct {
	Documents DocumentStore
	Insights  InsightStore
	Extractor Extractor
	Generator Generator
	// Prompt is the system prompt for per-document insights.
	Prompt string
	Sink   FragmentSink
	Events events.Publisher
	Retry  RetryPolicy
	Logger *logger.Logger
}

// Coordinator runs the extraction and generation pipeline at most once per
// document. Exclusion comes from the insight store's uniqueness constraint,
// never from in-process locks, so any number of processes may call it.
type Coordinator struct {
	documents DocumentStore
	insights  InsightStore
	extractor Extractor
	generator Generator
	prompt    string
	sink      FragmentSink
	events    events.Publisher
	retry     RetryPolicy
	log       *logger.Logger
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Events == nil {
		cfg.Events = events.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Coordinator{
		documents: cfg.Documents,
		insights:  cfg.Insights,
		extractor: cfg.Extractor,
		generator: cfg.Generator,
		prompt:    cfg.Prompt,
		sink:      cfg.Sink,
		events:    cfg.Events,
		retry:     cfg.Retry,
		log:       cfg.Logger.With("component", "insight.coordinator"),
	}
}

// RequestGeneration claims the document and runs the pipeline, or reports
// why it did nothing. Safe to call any number of times concurrently.
// No-op outcomes carry a nil error.
func (c *Coordinator) RequestGeneration(ctx context.Context, documentID types.ID) (Outcome, error) {
	ctx, span := telemetry.Start(ctx, "insight.request_generation",
		attribute.String("document_id", documentID.String()))

	outcome, err := c.requestGeneration(ctx, documentID)

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	telemetry.End(span, err)

	label := string(outcome)
	if label == "" {
		label = "error"
	}
	metrics.RecordInsightOutcome(label)
	return outcome, err
}

func (c *Coordinator) requestGeneration(ctx context.Context, documentID types.ID) (Outcome, error) {
	doc, err := c.documents.FindByID(ctx, documentID)
	if err != nil {
		return "", err
	}
	log := c.log.With("document_id", doc.ID, "user_id", doc.UserID)

	existing, err := c.insights.FindByDocument(ctx, doc.ID)
	switch {
	case err == nil:
		outcome, claimed, err := c.adoptExisting(ctx, existing)
		if err != nil || !claimed {
			log.Debug("generation skipped", "outcome", outcome, "status", existing.Status)
			return outcome, err
		}
		log.Info("reclaimed failed insight", "previous_attempts", existing.Attempts)
		return c.run(ctx, doc, log)

	case errors.Is(err, errors.ErrNotFound):
		claim := NewProcessing(doc.ID, doc.UserID)
		if err := c.insights.CreateProcessing(ctx, claim); err != nil {
			if errors.Is(err, ErrInsightExists) {
				log.Debug("generation skipped", "outcome", OutcomeRaceLost)
				return OutcomeRaceLost, nil
			}
			return "", errors.Persistence("failed to claim document", err)
		}
		return c.run(ctx, doc, log)

	default:
		return "", errors.Persistence("failed to look up insight", err)
	}
}

// adoptExisting decides what to do with a row that is already present.
func (c *Coordinator) adoptExisting(ctx context.Context, existing *Insight) (Outcome, bool, error) {
	switch existing.Status {
	case StatusCompleted:
		return OutcomeAlreadyCompleted, false, nil
	case StatusProcessing:
		return OutcomeAlreadyInProgress, false, nil
	case StatusFailed:
		if !c.retry.Enabled || existing.Attempts >= c.retry.MaxAttempts {
			return OutcomeRetriesExhausted, false, nil
		}
		won, err := c.insights.Reclaim(ctx, existing.DocumentID, c.retry.MaxAttempts)
		if err != nil {
			return "", false, errors.Persistence("failed to reclaim insight", err)
		}
		if !won {
			return OutcomeRaceLost, false, nil
		}
		return "", true, nil
	default:
		return "", false, errors.Internal(errors.New("unknown insight status " + string(existing.Status)))
	}
}

// run is the pipeline body, executed only by the caller that owns the claim.
func (c *Coordinator) run(ctx context.Context, doc *document.Document, log *logger.Logger) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordInsightFailure("panic")
			c.markFailed(ctx, doc, log, fmt.Sprintf("panic: %v", r))
			panic(r)
		}
	}()

	c.publish(ctx, events.TypeGenerationStarted, doc, nil)

	markdown := doc.ExtractedMarkdown
	if !doc.HasMarkdown() {
		extracted, err := c.extract(ctx, doc)
		if err != nil {
			return c.fail(ctx, doc, log, "extraction", err)
		}
		markdown = extracted

		if err := c.documents.SaveExtractedMarkdown(ctx, doc.ID, markdown); err != nil {
			log.Warn("failed to cache extracted markdown, continuing", "error", err)
		}
	}

	html, err := c.generate(ctx, doc, markdown)
	if err != nil {
		return c.fail(ctx, doc, log, "generation", err)
	}

	if err := c.insights.Complete(ctx, doc.ID, html); err != nil {
		log.Error("failed to persist insight, discarding generated html", "error", err, "html_bytes", len(html))
		metrics.RecordInsightFailure("persistence")
		c.markFailed(ctx, doc, log, "persistence: "+err.Error())
		return OutcomeFailed, errors.Persistence("failed to complete insight", err)
	}

	c.publish(ctx, events.TypeGenerationCompleted, doc, map[string]any{"html_bytes": len(html)})
	log.Info("insight generated", "html_bytes", len(html))
	return OutcomeGenerated, nil
}

func (c *Coordinator) extract(ctx context.Context, doc *document.Document) (string, error) {
	ctx, span := telemetry.Start(ctx, "insight.extract", attribute.String("document_id", doc.ID.String()))
	start := time.Now()

	markdown, err := c.extractor.ExtractMarkdown(ctx, doc.StoragePath)
	if err == nil && strings.TrimSpace(markdown) == "" {
		err = errors.Extraction("extractor returned no text", nil)
	}
	if err != nil && !errors.Is(err, errors.ErrExtraction) {
		err = errors.Extraction("failed to extract "+doc.StoragePath, err)
	}

	metrics.ObserveStage("extraction", time.Since(start))
	telemetry.End(span, err)
	return markdown, err
}

func (c *Coordinator) generate(ctx context.Context, doc *document.Document, markdown string) (string, error) {
	ctx, span := telemetry.Start(ctx, "insight.generate", attribute.String("document_id", doc.ID.String()))
	start := time.Now()

	html, err := Drain(ctx, c.generator.Generate(ctx, c.prompt, markdown), c.sink, "document:"+doc.ID.String())

	metrics.ObserveStage("generation", time.Since(start))
	telemetry.End(span, err)
	return html, err
}

// fail records a stage failure on the row so it stops looking in progress.
func (c *Coordinator) fail(ctx context.Context, doc *document.Document, log *logger.Logger, stage string, err error) (Outcome, error) {
	log.Error("insight pipeline failed", "stage", stage, "error", err)
	metrics.RecordInsightFailure(stage)
	c.markFailed(ctx, doc, log, err.Error())
	return OutcomeFailed, err
}

func (c *Coordinator) markFailed(ctx context.Context, doc *document.Document, log *logger.Logger, message string) {
	ctx = context.WithoutCancel(ctx)
	if err := c.insights.MarkFailed(ctx, doc.ID, message); err != nil {
		log.Error("failed to mark insight as failed", "error", err)
	}
	c.publish(ctx, events.TypeGenerationFailed, doc, map[string]any{"error": message})
}

func (c *Coordinator) publish(ctx context.Context, eventType string, doc *document.Document, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["document_id"] = doc.ID
	data["user_id"] = doc.UserID

	if err := c.events.Publish(ctx, events.NewEvent(eventType, "insight", doc.ID.String(), data)); err != nil {
		c.log.Warn("failed to publish event", "type", eventType, "document_id", doc.ID, "error", err)
	}
}
