package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	users map[types.ID]*User
}

func (f *fakeStore) Upsert(_ context.Context, u *User) (*User, error) {
	for _, existing := range f.users {
		if u.PhoneNumber != "" && existing.PhoneNumber == u.PhoneNumber {
			return existing, nil
		}
	}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeStore) FindByID(_ context.Context, id types.ID) (*User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.NotFound("user", id.String())
	}
	return u, nil
}

func (f *fakeStore) SavePatientInsights(_ context.Context, id types.ID, html string) error {
	f.users[id].PatientInsights = html
	return nil
}

func newTestHandler() (*fakeStore, http.Handler) {
	store := &fakeStore{users: map[types.ID]*User{}}
	return store, NewHandler(store).Routes()
}

func TestGetInsightsNone(t *testing.T) {
	store, h := newTestHandler()
	u := NewUser("+100", "Ana")
	store.users[u.ID] = u

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+u.ID.String()+"/insights", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "none", body["status"])
	assert.NotContains(t, body, "insights_html")
}

func TestGetInsightsCompleted(t *testing.T) {
	store, h := newTestHandler()
	u := NewUser("+100", "Ana")
	u.PatientInsights = "<p>stable</p>"
	store.users[u.ID] = u

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+u.ID.String()+"/insights", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "<p>stable</p>", body["insights_html"])
}

func TestGetUserNotFound(t *testing.T) {
	_, h := newTestHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+types.NewID().String(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUserInvalidID(t *testing.T) {
	_, h := newTestHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertUserIsIdempotentByPhone(t *testing.T) {
	store, h := newTestHandler()

	post := func() string {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone_number":" +381 ","full_name":"Ana"}`)))
		require.Equal(t, http.StatusOK, rec.Code)
		var u User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
		return u.ID.String()
	}

	first := post()
	second := post()
	assert.Equal(t, first, second)
	assert.Len(t, store.users, 1)
}
