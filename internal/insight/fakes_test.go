package insight_test

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medsum/platform/internal/document"
	"github.com/medsum/platform/internal/insight"
	"github.com/medsum/platform/internal/patient"
	"github.com/medsum/platform/internal/shared/events"
	"github.com/medsum/platform/internal/shared/types"
	"github.com/medsum/platform/internal/storage/memory"
)

type fakeExtractor struct {
	calls    atomic.Int32
	markdown string
	err      error
}

func (f *fakeExtractor) ExtractMarkdown(_ context.Context, _ string) (string, error) {
	f.calls.Add(1)
	return f.markdown, f.err
}

type fakeGenerator struct {
	calls     atomic.Int32
	fragments []string
	err       error
	panicMsg  string
	delay     time.Duration

	mu     sync.Mutex
	bodies []string
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, systemPrompt, body string) iter.Seq2[string, error] {
	f.calls.Add(1)
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.prompt = systemPrompt
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		if f.panicMsg != "" {
			panic(f.panicMsg)
		}
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		for _, frag := range f.fragments {
			if !yield(frag, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func (f *fakeGenerator) lastBody() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bodies) == 0 {
		return ""
	}
	return f.bodies[len(f.bodies)-1]
}

type recordingSink struct {
	mu        sync.Mutex
	fragments []string
}

func (s *recordingSink) Fragment(_ context.Context, _, fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = append(s.fragments, fragment)
	return nil
}

type panickingSink struct{}

func (panickingSink) Fragment(context.Context, string, string) error {
	panic("sink exploded")
}

// failingCompleteStore fails Complete while delegating everything else.
type failingCompleteStore struct {
	insight.InsightStore
}

func (f failingCompleteStore) Complete(context.Context, types.ID, string) error {
	return context.DeadlineExceeded
}

type fixture struct {
	store     *memory.Store
	extractor *fakeExtractor
	generator *fakeGenerator
	events    *events.Recorder
	user      *patient.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	user, err := store.Users().Upsert(context.Background(), patient.NewUser("+381600000000", "Test Patient"))
	require.NoError(t, err)

	return &fixture{
		store:     store,
		extractor: &fakeExtractor{markdown: "# Lab results\nHemoglobin 130 g/L"},
		generator: &fakeGenerator{fragments: []string{"<p>Your ", "results ", "look normal.</p>"}},
		events:    events.NewRecorder(),
		user:      user,
	}
}

func (f *fixture) coordinator(retry insight.RetryPolicy) *insight.Coordinator {
	return f.coordinatorWith(f.store.Insights(), retry)
}

func (f *fixture) coordinatorWith(store insight.InsightStore, retry insight.RetryPolicy) *insight.Coordinator {
	return insight.NewCoordinator(insight.CoordinatorConfig{
		Documents: f.store.Documents(),
		Insights:  store,
		Extractor: f.extractor,
		Generator: f.generator,
		Prompt:    "insight prompt",
		Events:    f.events,
		Retry:     retry,
	})
}

func (f *fixture) aggregator() *insight.Aggregator {
	return insight.NewAggregator(insight.AggregatorConfig{
		Documents: f.store.Documents(),
		Users:     f.store.Users(),
		Generator: f.generator,
		Prompt:    "summary prompt",
		Events:    f.events,
	})
}

func (f *fixture) addDocument(t *testing.T, uploadedAt *time.Time, markdown string) *document.Document {
	t.Helper()
	doc, err := document.NewDocument(f.user.ID, "scan.png", "image/png", "uploads/scan.png")
	require.NoError(t, err)
	doc.UploadedAt = uploadedAt
	doc.ExtractedMarkdown = markdown
	require.NoError(t, f.store.Documents().Create(context.Background(), doc))
	return doc
}

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}
