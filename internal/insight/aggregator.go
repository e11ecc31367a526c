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

const (
	unknownDate   = "Unknown Date"
	endOfReports  = "[END OF REPORTS]"
	reportDateFmt = "2006-01-02"
)

// ErrNoReports means the user has no document with extracted markdown.
var ErrNoReports = errors.New("no extracted reports")

// AggregatorConfig wires an Aggregator.
type AggregatorConfig struct {
	Documents DocumentStore
	Users     UserStore
	Generator Generator
	// Prompt is the patient-summary system prompt.
	Prompt string
	Sink   FragmentSink
	Events events.Publisher
	Logger *logger.Logger
}

// Aggregator builds the cumulative patient summary. Runs for the same user
// are not mutually exclusive; the last write wins.
type Aggregator struct {
	documents DocumentStore
	users     UserStore
	generator Generator
	prompt    string
	sink      FragmentSink
	events    events.Publisher
	log       *logger.Logger
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Events == nil {
		cfg.Events = events.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Aggregator{
		documents: cfg.Documents,
		users:     cfg.Users,
		generator: cfg.Generator,
		prompt:    cfg.Prompt,
		sink:      cfg.Sink,
		events:    cfg.Events,
		log:       cfg.Logger.With("component", "insight.aggregator"),
	}
}

// Aggregate summarises every extracted report of the user in upload order
// and overwrites the user's patient insights with the result.
func (a *Aggregator) Aggregate(ctx context.Context, userID types.ID) (html string, err error) {
	ctx, span := telemetry.Start(ctx, "insight.aggregate", attribute.String("user_id", userID.String()))
	defer func() {
		telemetry.End(span, err)
		metrics.RecordPatientSummary(summaryResult(err))
	}()

	if _, err := a.users.FindByID(ctx, userID); err != nil {
		return "", err
	}

	docs, err := a.documents.ListWithMarkdown(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		notFound := errors.NotFound("reports", userID.String())
		notFound.Err = fmt.Errorf("%w: %w", errors.ErrNotFound, ErrNoReports)
		return "", notFound
	}

	log := a.log.With("user_id", userID, "reports", len(docs))
	start := time.Now()

	html, err = Drain(ctx, a.generator.Generate(ctx, a.prompt, BuildReportBundle(docs)), a.sink, "user:"+userID.String())
	metrics.ObserveStage("summary", time.Since(start))
	if err != nil {
		log.Error("patient summary generation failed", "error", err)
		return "", err
	}

	if err := a.users.SavePatientInsights(ctx, userID, html); err != nil {
		log.Error("failed to persist patient summary", "error", err)
		if errors.Is(err, errors.ErrNotFound) {
			return "", err
		}
		return "", errors.Persistence("failed to save patient summary", err)
	}

	evt := events.NewEvent(events.TypeSummaryUpdated, "insight", userID.String(), map[string]any{
		"user_id":    userID,
		"reports":    len(docs),
		"html_bytes": len(html),
	})
	if err := a.events.Publish(ctx, evt); err != nil {
		log.Warn("failed to publish event", "type", evt.Type, "error", err)
	}

	log.Info("patient summary updated", "html_bytes", len(html))
	return html, nil
}

// BuildReportBundle formats documents, already in upload order, as the
// summary prompt input:
//
//	[REPORT 1 - 2023-01-01]
//	<markdown>
//
//	[REPORT 2 - Unknown Date]
//	<markdown>
//
//	[END OF REPORTS]
func BuildReportBundle(docs []document.Document) string {
	var b strings.Builder
	for i, d := range docs {
		date := unknownDate
		if d.UploadedAt != nil && !d.UploadedAt.IsZero() {
			date = d.UploadedAt.UTC().Format(reportDateFmt)
		}
		fmt.Fprintf(&b, "[REPORT %d - %s]\n", i+1, date)
		b.WriteString(strings.TrimSpace(d.ExtractedMarkdown))
		b.WriteString("\n\n")
	}
	b.WriteString(endOfReports)
	return b.String()
}

func summaryResult(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrNoReports):
		return "no_reports"
	case errors.Is(err, errors.ErrNotFound):
		return "not_found"
	case errors.Is(err, errors.ErrGeneration):
		return "generation_failed"
	default:
		return "error"
	}
}
