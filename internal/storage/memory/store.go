package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/medsum/platform/internal/document"
	"github.com/medsum/platform/internal/insight"
	"github.com/medsum/platform/internal/patient"
	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/types"
)

// Store keeps documents, insights and users in process memory. It enforces
// the same constraints as the SQL schema: one insight per document, insight
// rows require their document, and deleting a document drops its insight.
type Store struct {
	mu        sync.RWMutex
	documents map[types.ID]document.Document
	insights  map[types.ID]insight.Insight // keyed by document ID
	users     map[types.ID]patient.User
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		documents: make(map[types.ID]document.Document),
		insights:  make(map[types.ID]insight.Insight),
		users:     make(map[types.ID]patient.User),
	}
}

// Documents returns the document store view.
func (s *Store) Documents() document.Store { return &documentStore{s} }

// Insights returns the insight store view.
func (s *Store) Insights() insight.InsightStore { return &insightStore{s} }

// Users returns the user store view.
func (s *Store) Users() patient.Store { return &userStore{s} }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

type documentStore struct{ s *Store }

func (d *documentStore) Create(_ context.Context, doc *document.Document) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	if _, exists := d.s.documents[doc.ID]; exists {
		return errors.Conflict("document already exists")
	}
	if _, ok := d.s.users[doc.UserID]; !ok {
		return errors.NotFound("user", doc.UserID.String())
	}
	d.s.documents[doc.ID] = cloneDocument(*doc)
	return nil
}

func (d *documentStore) FindByID(_ context.Context, id types.ID) (*document.Document, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	doc, ok := d.s.documents[id]
	if !ok {
		return nil, errors.NotFound("document", id.String())
	}
	out := cloneDocument(doc)
	return &out, nil
}

func (d *documentStore) ListByUser(_ context.Context, userID types.ID) ([]document.Document, error) {
	docs := d.filter(userID, func(document.Document) bool { return true })
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].UploadedAt, docs[j].UploadedAt
		switch {
		case a == nil && b == nil:
			return docs[i].ID < docs[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		default:
			return docs[i].ID < docs[j].ID
		}
	})
	return docs, nil
}

func (d *documentStore) ListWithMarkdown(_ context.Context, userID types.ID) ([]document.Document, error) {
	docs := d.filter(userID, func(doc document.Document) bool { return doc.HasMarkdown() })
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i].UploadedAt, docs[j].UploadedAt
		switch {
		case a == nil && b == nil:
			return docs[i].ID < docs[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		default:
			return docs[i].ID < docs[j].ID
		}
	})
	return docs, nil
}

func (d *documentStore) filter(userID types.ID, keep func(document.Document) bool) []document.Document {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	var out []document.Document
	for _, doc := range d.s.documents {
		if doc.UserID == userID && keep(doc) {
			out = append(out, cloneDocument(doc))
		}
	}
	return out
}

func (d *documentStore) SaveExtractedMarkdown(_ context.Context, id types.ID, markdown string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	doc, ok := d.s.documents[id]
	if !ok {
		return errors.NotFound("document", id.String())
	}
	if strings.TrimSpace(doc.ExtractedMarkdown) != "" {
		return nil
	}
	doc.ExtractedMarkdown = markdown
	doc.UpdatedAt = time.Now().UTC()
	d.s.documents[id] = doc
	return nil
}

func (d *documentStore) Delete(_ context.Context, id types.ID) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	if _, ok := d.s.documents[id]; !ok {
		return errors.NotFound("document", id.String())
	}
	delete(d.s.documents, id)
	delete(d.s.insights, id)
	return nil
}

type insightStore struct{ s *Store }

func (i *insightStore) FindByDocument(_ context.Context, documentID types.ID) (*insight.Insight, error) {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()

	in, ok := i.s.insights[documentID]
	if !ok {
		return nil, errors.NotFound("insight", documentID.String())
	}
	return &in, nil
}

func (i *insightStore) CreateProcessing(_ context.Context, in *insight.Insight) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()

	if _, exists := i.s.insights[in.DocumentID]; exists {
		return fmt.Errorf("%w: %s", insight.ErrInsightExists, in.DocumentID)
	}
	if _, ok := i.s.documents[in.DocumentID]; !ok {
		return fmt.Errorf("insert insight: document %s does not exist", in.DocumentID)
	}
	row := *in
	row.Status = insight.StatusProcessing
	i.s.insights[in.DocumentID] = row
	return nil
}

func (i *insightStore) Reclaim(_ context.Context, documentID types.ID, maxAttempts int) (bool, error) {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()

	in, ok := i.s.insights[documentID]
	if !ok || in.Status != insight.StatusFailed || in.Attempts >= maxAttempts {
		return false, nil
	}
	in.Status = insight.StatusProcessing
	in.ErrorMessage = ""
	in.Attempts++
	in.UpdatedAt = time.Now().UTC()
	i.s.insights[documentID] = in
	return true, nil
}

func (i *insightStore) Complete(_ context.Context, documentID types.ID, html string) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()

	in, ok := i.s.insights[documentID]
	if !ok || in.Status != insight.StatusProcessing {
		return fmt.Errorf("insight for document %s is not processing", documentID)
	}
	if strings.TrimSpace(html) == "" {
		return fmt.Errorf("completed insight requires html")
	}
	in.HTMLInsights = html
	in.Status = insight.StatusCompleted
	in.ErrorMessage = ""
	in.UpdatedAt = time.Now().UTC()
	i.s.insights[documentID] = in
	return nil
}

func (i *insightStore) MarkFailed(_ context.Context, documentID types.ID, message string) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()

	in, ok := i.s.insights[documentID]
	if !ok || in.Status != insight.StatusProcessing {
		return nil
	}
	in.Status = insight.StatusFailed
	in.ErrorMessage = message
	in.UpdatedAt = time.Now().UTC()
	i.s.insights[documentID] = in
	return nil
}

type userStore struct{ s *Store }

func (u *userStore) Upsert(_ context.Context, user *patient.User) (*patient.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	if user.PhoneNumber != "" {
		for id, existing := range u.s.users {
			if existing.PhoneNumber == user.PhoneNumber {
				if user.FullName != "" {
					existing.FullName = user.FullName
					u.s.users[id] = existing
				}
				out := existing
				return &out, nil
			}
		}
	}
	u.s.users[user.ID] = *user
	out := *user
	return &out, nil
}

func (u *userStore) FindByID(_ context.Context, id types.ID) (*patient.User, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()

	user, ok := u.s.users[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	return &user, nil
}

func (u *userStore) SavePatientInsights(_ context.Context, id types.ID, html string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	user, ok := u.s.users[id]
	if !ok {
		return errors.NotFound("user", id.String())
	}
	now := time.Now().UTC()
	user.PatientInsights = html
	user.PatientInsightsUpdatedAt = &now
	u.s.users[id] = user
	return nil
}

func cloneDocument(d document.Document) document.Document {
	if d.UploadedAt != nil {
		t := *d.UploadedAt
		d.UploadedAt = &t
	}
	return d
}
