package document

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medsum/platform/internal/shared/database"
	apperrors "github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/types"
)

// Repository provides Postgres operations for documents
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new document repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `
		SELECT id, user_id, original_name, content_type, storage_path,
			extracted_markdown, uploaded_at, updated_at
		FROM documents`

// Create saves a new document
func (r *Repository) Create(ctx context.Context, d *Document) error {
	query := `
		INSERT INTO documents (
			id, user_id, original_name, content_type, storage_path,
			extracted_markdown, uploaded_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.UserID, d.OriginalName, d.ContentType, d.StoragePath,
		d.ExtractedMarkdown, d.UploadedAt, d.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return apperrors.Conflict("document already exists")
		}
		if database.IsForeignKeyViolation(err) {
			return apperrors.NotFound("user", d.UserID.String())
		}
		return apperrors.Wrap(err, "failed to save document")
	}
	return nil
}

// FindByID finds a document by ID
func (r *Repository) FindByID(ctx context.Context, id types.ID) (*Document, error) {
	d, err := scanDocument(r.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("document", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to find document")
	}
	return d, nil
}

// ListByUser lists a user's documents, newest first
func (r *Repository) ListByUser(ctx context.Context, userID types.ID) ([]Document, error) {
	return r.list(ctx, selectColumns+`
		WHERE user_id = $1
		ORDER BY uploaded_at DESC NULLS LAST, id`, userID)
}

// ListWithMarkdown lists documents with cached markdown in upload order
func (r *Repository) ListWithMarkdown(ctx context.Context, userID types.ID) ([]Document, error) {
	return r.list(ctx, selectColumns+`
		WHERE user_id = $1
			AND extracted_markdown IS NOT NULL
			AND btrim(extracted_markdown) <> ''
		ORDER BY uploaded_at ASC NULLS LAST, id`, userID)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Document, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list documents")
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan document")
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to list documents")
	}
	return docs, nil
}

// SaveExtractedMarkdown caches extraction output if none is cached yet.
// A document that already has markdown is left untouched.
func (r *Repository) SaveExtractedMarkdown(ctx context.Context, id types.ID, markdown string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE documents
		SET extracted_markdown = $2, updated_at = $3
		WHERE id = $1 AND (extracted_markdown IS NULL OR btrim(extracted_markdown) = '')`,
		id, markdown, time.Now().UTC(),
	)
	if err != nil {
		return apperrors.Persistence("failed to save extracted markdown", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
			return apperrors.Persistence("failed to save extracted markdown", err)
		}
		if !exists {
			return apperrors.NotFound("document", id.String())
		}
	}
	return nil
}

// Delete deletes a document and, by cascade, its insight
func (r *Repository) Delete(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete document")
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("document", id.String())
	}
	return nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var (
		d        Document
		markdown *string
	)
	err := row.Scan(
		&d.ID, &d.UserID, &d.OriginalName, &d.ContentType, &d.StoragePath,
		&markdown, &d.UploadedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if markdown != nil {
		d.ExtractedMarkdown = *markdown
	}
	return &d, nil
}
