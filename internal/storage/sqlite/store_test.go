package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsum/platform/internal/storage/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "data", "medsum.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return newTestStore(t)
	})
}

func TestNewStore_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medsum.db")

	first, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewStore(path)
	require.NoError(t, err)
	defer second.Close()

	var count int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
	assert.Equal(t, path, second.Path())
	assert.NoError(t, second.Ping(context.Background()))
}

func TestCompletedRowRequiresHTML(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := storetest.SeedUser(t, s)
	doc := storetest.SeedDocument(t, s, user.ID, nil, "")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insights (id, document_id, user_id, status, created_at, updated_at)
		VALUES ('x', ?, ?, 'completed', 'now', 'now')`, doc.ID.String(), user.ID.String())
	assert.Error(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(errors.New("disk I/O error")))
	assert.True(t, isUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: insights.document_id (2067)")))
}
