package insight_test

import (
	"context"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsum/platform/internal/document"
	"github.com/medsum/platform/internal/generation"
	"github.com/medsum/platform/internal/insight"
	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/events"
	"github.com/medsum/platform/internal/shared/types"
)

func TestAggregate_OrdersReportsByUploadDate(t *testing.T) {
	f := newFixture(t)
	f.generator.fragments = []string{"<h1>Summary</h1>"}
	ctx := context.Background()

	f.addDocument(t, date("2024-03-05"), "Second report")
	f.addDocument(t, nil, "Undated report")
	f.addDocument(t, date("2023-11-20"), "  First report\n")
	f.addDocument(t, date("2024-01-01"), "")

	html, err := f.aggregator().Aggregate(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Summary</h1>", html)

	want := "[REPORT 1 - 2023-11-20]\nFirst report\n\n" +
		"[REPORT 2 - 2024-03-05]\nSecond report\n\n" +
		"[REPORT 3 - Unknown Date]\nUndated report\n\n" +
		"[END OF REPORTS]"
	assert.Equal(t, want, f.generator.lastBody())
	assert.Equal(t, "summary prompt", f.generator.prompt)

	user, err := f.store.Users().FindByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Summary</h1>", user.PatientInsights)
	assert.NotNil(t, user.PatientInsightsUpdatedAt)

	assert.Equal(t, []string{events.TypeSummaryUpdated}, f.events.Types())
}

func TestAggregate_NoReports(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, date("2024-03-05"), "")

	_, err := f.aggregator().Aggregate(context.Background(), f.user.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.ErrorIs(t, err, insight.ErrNoReports)
	assert.Equal(t, 404, errors.HTTPStatus(err))
	assert.Zero(t, f.generator.calls.Load())
}

func TestAggregate_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.aggregator().Aggregate(context.Background(), types.NewID())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.NotErrorIs(t, err, insight.ErrNoReports)
}

func TestAggregate_OverwritesPreviousSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDocument(t, date("2024-03-05"), "Report")
	a := f.aggregator()

	f.generator.fragments = []string{"<p>v1</p>"}
	_, err := a.Aggregate(ctx, f.user.ID)
	require.NoError(t, err)

	f.generator.fragments = []string{"<p>v2</p>"}
	_, err = a.Aggregate(ctx, f.user.ID)
	require.NoError(t, err)

	user, err := f.store.Users().FindByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "<p>v2</p>", user.PatientInsights)
}

func TestAggregate_GenerationFailureKeepsPreviousSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDocument(t, date("2024-03-05"), "Report")
	require.NoError(t, f.store.Users().SavePatientInsights(ctx, f.user.ID, "<p>old</p>"))

	f.generator.fragments = []string{"<p>partial"}
	f.generator.err = errors.New("stream reset")

	_, err := f.aggregator().Aggregate(ctx, f.user.ID)
	assert.True(t, errors.Is(err, errors.ErrGeneration))

	user, err := f.store.Users().FindByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "<p>old</p>", user.PatientInsights)
	assert.Empty(t, f.events.Events())
}

// cutOffChat streams part of an answer and returns nil without a done
// response, as the ollama client does when the connection drops.
type cutOffChat struct{}

func (cutOffChat) Chat(_ context.Context, _ *api.ChatRequest, fn api.ChatResponseFunc) error {
	return fn(api.ChatResponse{Message: api.Message{Role: "assistant", Content: "<h2>Find"}})
}

func TestAggregate_CutOffStreamIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDocument(t, date("2024-03-05"), "Report")
	require.NoError(t, f.store.Users().SavePatientInsights(ctx, f.user.ID, "<p>old</p>"))

	agg := insight.NewAggregator(insight.AggregatorConfig{
		Documents: f.store.Documents(),
		Users:     f.store.Users(),
		Generator: generation.NewOllamaGenerator(generation.Config{Client: cutOffChat{}}),
		Prompt:    "summary prompt",
		Events:    f.events,
	})

	html, err := agg.Aggregate(ctx, f.user.ID)
	assert.Empty(t, html)
	assert.True(t, errors.Is(err, errors.ErrGeneration))
	assert.ErrorIs(t, err, generation.ErrStreamTruncated)

	user, err := f.store.Users().FindByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "<p>old</p>", user.PatientInsights)
}

func TestBuildReportBundle(t *testing.T) {
	assert.Equal(t, "[END OF REPORTS]", insight.BuildReportBundle(nil))

	docs := []document.Document{
		{ExtractedMarkdown: "\n# A\n", UploadedAt: date("2023-01-01")},
		{ExtractedMarkdown: "B"},
	}
	assert.Equal(t,
		"[REPORT 1 - 2023-01-01]\n# A\n\n[REPORT 2 - Unknown Date]\nB\n\n[END OF REPORTS]",
		insight.BuildReportBundle(docs))
}
