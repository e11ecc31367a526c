package patient

import (
	"context"
	"time"

	"github.com/medsum/platform/internal/shared/types"
)

// User is the patient that owns documents and the cumulative summary.
type User struct {
	ID          types.ID `json:"id"`
	PhoneNumber string   `json:"phone_number,omitempty"`
	FullName    string   `json:"full_name,omitempty"`

	// PatientInsights is overwritten by every aggregation run.
	PatientInsights          string     `json:"patient_insights,omitempty"`
	PatientInsightsUpdatedAt *time.Time `json:"patient_insights_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewUser creates a user with a fresh ID
func NewUser(phoneNumber, fullName string) *User {
	return &User{
		ID:          types.NewID(),
		PhoneNumber: phoneNumber,
		FullName:    fullName,
		CreatedAt:   time.Now().UTC(),
	}
}

// Store is the persistence contract for users.
type Store interface {
	// Upsert inserts the user, or returns the existing user with the same
	// phone number after updating its name.
	Upsert(ctx context.Context, u *User) (*User, error)
	FindByID(ctx context.Context, id types.ID) (*User, error)
	SavePatientInsights(ctx context.Context, id types.ID, html string) error
}

// UpsertUserRequest is the payload for POST /users
type UpsertUserRequest struct {
	PhoneNumber string `json:"phone_number"`
	FullName    string `json:"full_name"`
}
