package insight

import (
	"context"
	"iter"

	"github.com/medsum/platform/internal/document"
	"github.com/medsum/platform/internal/patient"
	"github.com/medsum/platform/internal/shared/types"
)

// DocumentStore is the slice of document persistence the pipeline needs.
type DocumentStore interface {
	FindByID(ctx context.Context, id types.ID) (*document.Document, error)
	SaveExtractedMarkdown(ctx context.Context, id types.ID, markdown string) error
	ListWithMarkdown(ctx context.Context, userID types.ID) ([]document.Document, error)
}

// InsightStore persists insight rows. CreateProcessing must be atomic with
// respect to the per-document uniqueness constraint.
type InsightStore interface {
	FindByDocument(ctx context.Context, documentID types.ID) (*Insight, error)
	// CreateProcessing inserts the claim row or returns ErrInsightExists.
	CreateProcessing(ctx context.Context, in *Insight) error
	// Reclaim moves a failed row back to processing when fewer than
	// maxAttempts attempts were made. It reports whether this caller won.
	Reclaim(ctx context.Context, documentID types.ID, maxAttempts int) (bool, error)
	Complete(ctx context.Context, documentID types.ID, html string) error
	MarkFailed(ctx context.Context, documentID types.ID, message string) error
}

// UserStore is the slice of user persistence aggregation needs.
type UserStore interface {
	FindByID(ctx context.Context, id types.ID) (*patient.User, error)
	SavePatientInsights(ctx context.Context, id types.ID, html string) error
}

// Extractor turns a stored source file into markdown.
type Extractor interface {
	ExtractMarkdown(ctx context.Context, fileLocation string) (string, error)
}

// Generator streams model output for a system prompt and a body. The
// returned sequence may only be ranged over once. A stream that stops
// before the model finished must end with an error, never silently.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, body string) iter.Seq2[string, error]
}

// FragmentSink mirrors generation fragments for live display. Failures
// are ignored by the pipeline.
type FragmentSink interface {
	Fragment(ctx context.Context, streamKey, fragment string) error
}
