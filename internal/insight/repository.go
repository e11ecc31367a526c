package insight

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsum/platform/internal/shared/database"
	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/types"
)

// Repository provides Postgres operations for insights
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new insight repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByDocument returns the insight row for a document
func (r *Repository) FindByDocument(ctx context.Context, documentID types.ID) (*Insight, error) {
	var (
		in           Insight
		html, errMsg *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, document_id, user_id, html_insights, status, error_message,
			attempts, created_at, updated_at
		FROM insights
		WHERE document_id = $1`, documentID,
	).Scan(
		&in.ID, &in.DocumentID, &in.UserID, &html, &in.Status, &errMsg,
		&in.Attempts, &in.CreatedAt, &in.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("insight", documentID.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find insight")
	}
	if html != nil {
		in.HTMLInsights = *html
	}
	if errMsg != nil {
		in.ErrorMessage = *errMsg
	}
	return &in, nil
}

// CreateProcessing inserts the claim row. The unique constraint on
// document_id decides the winner between concurrent callers.
func (r *Repository) CreateProcessing(ctx context.Context, in *Insight) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO insights (id, document_id, user_id, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ID, in.DocumentID, in.UserID, StatusProcessing, in.Attempts, in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrInsightExists, in.DocumentID)
		}
		return err
	}
	return nil
}

// Reclaim moves a failed row back to processing in a single conditional
// update; only one concurrent caller can see the row change.
func (r *Repository) Reclaim(ctx context.Context, documentID types.ID, maxAttempts int) (bool, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE insights
		SET status = $2, error_message = NULL, attempts = attempts + 1, updated_at = $3
		WHERE document_id = $1 AND status = $4 AND attempts < $5`,
		documentID, StatusProcessing, time.Now().UTC(), StatusFailed, maxAttempts,
	)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// Complete stores the generated HTML and marks the row completed
func (r *Repository) Complete(ctx context.Context, documentID types.ID, html string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE insights
		SET html_insights = $2, status = $3, error_message = NULL, updated_at = $4
		WHERE document_id = $1 AND status = $5`,
		documentID, html, StatusCompleted, time.Now().UTC(), StatusProcessing,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("insight for document %s is not processing", documentID)
	}
	return nil
}

// MarkFailed records the failure reason on a processing row
func (r *Repository) MarkFailed(ctx context.Context, documentID types.ID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE insights
		SET status = $2, error_message = $3, updated_at = $4
		WHERE document_id = $1 AND status = $5`,
		documentID, StatusFailed, message, time.Now().UTC(), StatusProcessing,
	)
	return err
}
