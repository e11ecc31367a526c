// Package storetest holds the behaviour every storage backend must share.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsum/platform/internal/document"
	"github.com/medsum/platform/internal/insight"
	"github.com/medsum/platform/internal/patient"
	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/types"
)

// Backend is the set of views a storage implementation exposes.
type Backend interface {
	Documents() document.Store
	Insights() insight.InsightStore
	Users() patient.Store
}

// Run exercises a fresh backend from newBackend in each subtest.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("UserUpsertByPhone", func(t *testing.T) { testUserUpsert(t, newBackend(t)) })
	t.Run("DocumentLifecycle", func(t *testing.T) { testDocumentLifecycle(t, newBackend(t)) })
	t.Run("DocumentRequiresUser", func(t *testing.T) { testDocumentRequiresUser(t, newBackend(t)) })
	t.Run("MarkdownWrittenOnce", func(t *testing.T) { testMarkdownWrittenOnce(t, newBackend(t)) })
	t.Run("ListWithMarkdownOrder", func(t *testing.T) { testListWithMarkdownOrder(t, newBackend(t)) })
	t.Run("InsightUniquePerDocument", func(t *testing.T) { testInsightUnique(t, newBackend(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newBackend(t)) })
	t.Run("InsightTransitions", func(t *testing.T) { testInsightTransitions(t, newBackend(t)) })
	t.Run("DeleteCascadesInsight", func(t *testing.T) { testDeleteCascades(t, newBackend(t)) })
	t.Run("PatientInsightsOverwrite", func(t *testing.T) { testPatientInsights(t, newBackend(t)) })
}

// SeedUser inserts a user and returns it.
func SeedUser(t *testing.T, b Backend) *patient.User {
	t.Helper()
	u, err := b.Users().Upsert(context.Background(), patient.NewUser("", "Test Patient"))
	require.NoError(t, err)
	return u
}

// SeedDocument inserts a document for userID with the given upload time
// and cached markdown.
func SeedDocument(t *testing.T, b Backend, userID types.ID, uploadedAt *time.Time, markdown string) *document.Document {
	t.Helper()
	doc, err := document.NewDocument(userID, "report.pdf", "application/pdf", "reports/report.pdf")
	require.NoError(t, err)
	doc.UploadedAt = uploadedAt
	doc.ExtractedMarkdown = markdown
	require.NoError(t, b.Documents().Create(context.Background(), doc))
	return doc
}

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func testUserUpsert(t *testing.T, b Backend) {
	ctx := context.Background()

	first, err := b.Users().Upsert(ctx, patient.NewUser("+381601234567", "Ana"))
	require.NoError(t, err)

	second, err := b.Users().Upsert(ctx, patient.NewUser("+381601234567", "Ana Petrovic"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ana Petrovic", second.FullName)

	found, err := b.Users().FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana Petrovic", found.FullName)

	_, err = b.Users().FindByID(ctx, types.NewID())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testDocumentLifecycle(t *testing.T, b Backend) {
	ctx := context.Background()
	user := SeedUser(t, b)
	doc := SeedDocument(t, b, user.ID, at("2024-03-01T10:00:00Z"), "")

	found, err := b.Documents().FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.StoragePath, found.StoragePath)
	assert.False(t, found.HasMarkdown())
	require.NotNil(t, found.UploadedAt)
	assert.True(t, doc.UploadedAt.Equal(*found.UploadedAt))

	docs, err := b.Documents().ListByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, b.Documents().Delete(ctx, doc.ID))
	_, err = b.Documents().FindByID(ctx, doc.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	err = b.Documents().Delete(ctx, doc.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testDocumentRequiresUser(t *testing.T, b Backend) {
	doc, err := document.NewDocument(types.NewID(), "", "image/png", "scans/a.png")
	require.NoError(t, err)
	assert.Equal(t, "a.png", doc.OriginalName)

	err = b.Documents().Create(context.Background(), doc)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testMarkdownWrittenOnce(t *testing.T, b Backend) {
	ctx := context.Background()
	user := SeedUser(t, b)
	doc := SeedDocument(t, b, user.ID, at("2024-03-01T10:00:00Z"), "")

	require.NoError(t, b.Documents().SaveExtractedMarkdown(ctx, doc.ID, "# First"))
	require.NoError(t, b.Documents().SaveExtractedMarkdown(ctx, doc.ID, "# Second"))

	found, err := b.Documents().FindByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "# First", found.ExtractedMarkdown)

	err = b.Documents().SaveExtractedMarkdown(ctx, types.NewID(), "# Orphan")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testListWithMarkdownOrder(t *testing.T, b Backend) {
	ctx := context.Background()
	user := SeedUser(t, b)
	other := SeedUser(t, b)

	late := SeedDocument(t, b, user.ID, at("2024-05-01T00:00:00Z"), "late")
	undated := SeedDocument(t, b, user.ID, nil, "undated")
	early := SeedDocument(t, b, user.ID, at("2024-01-15T00:00:00Z"), "early")
	SeedDocument(t, b, user.ID, at("2024-02-01T00:00:00Z"), "   ")
	SeedDocument(t, b, user.ID, at("2024-02-02T00:00:00Z"), "")
	SeedDocument(t, b, other.ID, at("2024-01-01T00:00:00Z"), "someone else")

	docs, err := b.Documents().ListWithMarkdown(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, early.ID, docs[0].ID)
	assert.Equal(t, late.ID, docs[1].ID)
	assert.Equal(t, undated.ID, docs[2].ID)
	assert.Nil(t, docs[2].UploadedAt)

	all, err := b.Documents().ListByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, late.ID, all[0].ID)
}

func testInsightUnique(t *testing.T, b Backend) {
	ctx := context.Background()
	user := SeedUser(t, b)
	doc := SeedDocument(t, b, user.ID, at("2024-03-01T10:00:00Z"), "")

	require.NoError(t, b.Insights().CreateProcessing(ctx, insight.NewProcessing(doc.ID, user.ID)))

	err := b.Insights().CreateProcessing(ctx, insight.NewProcessing(doc.ID, user.ID))
	assert.ErrorIs(t, err, insight.ErrInsightExists)

	in, err := b.Insights().FindByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.StatusProcessing, in.Status)
	assert.Equal(t, 1, in.Attempts)

	_, err = b.Insights().FindByDocument(ctx, types.NewID())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testConcurrentClaim(t *testing.T, b Backend) {
	ctx := context.Background()
	user := SeedUser(t, b)
	doc := SeedDocument(t, b, user.ID, at("2024-03-01T10:00:00Z"), "")

	const callers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
		lost atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Insights().CreateProcessing(ctx, insight.NewProcessing(doc.ID, user.ID))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, insight.ErrInsightExists):
				lost.Add(1)
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, callers-1, lost.Load())
}

func testInsightTransitions(t *testing.T, b Backend) {
	ctx := context.Background()
	user := SeedUser(t, b)
	doc := SeedDocument(t, b, user.ID, at("2024-03-01T10:00:00Z"), "")
	store := b.Insights()

	require.NoError(t, store.CreateProcessing(ctx, insight.NewProcessing(doc.ID, user.ID)))

	ok, err := store.Reclaim(ctx, doc.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok, "processing rows cannot be reclaimed")

	require.NoError(t, store.MarkFailed(ctx, doc.ID, "model unreachable"))
	in, err := store.FindByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.StatusFailed, in.Status)
	assert.Equal(t, "model unreachable", in.ErrorMessage)

	assert.Error(t, store.Complete(ctx, doc.ID, "<p>late</p>"), "failed rows cannot complete")

	ok, err = store.Reclaim(ctx, doc.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok, "attempt limit reached")

	ok, err = store.Reclaim(ctx, doc.ID, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Reclaim(ctx, doc.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok, "second reclaim must lose")

	require.NoError(t, store.Complete(ctx, doc.ID, "<p>done</p>"))
	in, err = store.FindByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.StatusCompleted, in.Status)
	assert.Equal(t, "<p>done</p>", in.HTMLInsights)
	assert.Equal(t, 2, in.Attempts)
	assert.Empty(t, in.ErrorMessage)

	require.NoError(t, store.MarkFailed(ctx, doc.ID, "ignored"))
	in, err = store.FindByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, insight.StatusCompleted, in.Status)
}

func testDeleteCascades(t *testing.T, b Backend) {
	ctx := context.Background()
	user := SeedUser(t, b)
	doc := SeedDocument(t, b, user.ID, at("2024-03-01T10:00:00Z"), "")
	require.NoError(t, b.Insights().CreateProcessing(ctx, insight.NewProcessing(doc.ID, user.ID)))

	require.NoError(t, b.Documents().Delete(ctx, doc.ID))

	_, err := b.Insights().FindByDocument(ctx, doc.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func testPatientInsights(t *testing.T, b Backend) {
	ctx := context.Background()
	user := SeedUser(t, b)

	require.NoError(t, b.Users().SavePatientInsights(ctx, user.ID, "<p>v1</p>"))
	require.NoError(t, b.Users().SavePatientInsights(ctx, user.ID, "<p>v2</p>"))

	found, err := b.Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "<p>v2</p>", found.PatientInsights)
	assert.NotNil(t, found.PatientInsightsUpdatedAt)

	err = b.Users().SavePatientInsights(ctx, types.NewID(), "<p>x</p>")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
