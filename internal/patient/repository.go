package patient

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/types"
)

// Repository provides Postgres operations for users
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new user repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Upsert creates the user or refreshes the one registered with the same phone number
func (r *Repository) Upsert(ctx context.Context, u *User) (*User, error) {
	if u.PhoneNumber == "" {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO users (id, full_name, created_at) VALUES ($1, NULLIF($2, ''), $3)`,
			u.ID, u.FullName, u.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to save user")
		}
		return u, nil
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, phone_number, full_name, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (phone_number) DO UPDATE
			SET full_name = COALESCE(EXCLUDED.full_name, users.full_name)
		RETURNING id, phone_number, full_name, patient_insights, patient_insights_updated_at, created_at`,
		u.ID, u.PhoneNumber, u.FullName, u.CreatedAt,
	)
	saved, err := scanUser(row)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to save user")
	}
	return saved, nil
}

// FindByID finds a user by ID
func (r *Repository) FindByID(ctx context.Context, id types.ID) (*User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `
		SELECT id, phone_number, full_name, patient_insights, patient_insights_updated_at, created_at
		FROM users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to find user")
	}
	return u, nil
}

// SavePatientInsights overwrites the cumulative summary
func (r *Repository) SavePatientInsights(ctx context.Context, id types.ID, html string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE users SET patient_insights = $2, patient_insights_updated_at = $3 WHERE id = $1`,
		id, html, time.Now().UTC(),
	)
	if err != nil {
		return apperrors.Persistence("failed to save patient insights", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("user", id.String())
	}
	return nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u                         User
		phone, name, patientNotes *string
	)
	if err := row.Scan(&u.ID, &phone, &name, &patientNotes, &u.PatientInsightsUpdatedAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	if phone != nil {
		u.PhoneNumber = *phone
	}
	if name != nil {
		u.FullName = *name
	}
	if patientNotes != nil {
		u.PatientInsights = *patientNotes
	}
	return &u, nil
}
