package insight

import (
	"errors"
	"time"

	"github.com/medsum/platform/internal/shared/types"
)

// Status is the lifecycle state of an insight row.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Insight is the generated narrative for one document. At most one row
// exists per document; the row is created by whichever caller claims it.
type Insight struct {
	ID           types.ID  `json:"id"`
	DocumentID   types.ID  `json:"document_id"`
	UserID       types.ID  `json:"user_id"`
	HTMLInsights string    `json:"insights_html,omitempty"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewProcessing builds the claim row inserted before the pipeline runs.
func NewProcessing(documentID, userID types.ID) *Insight {
	now := time.Now().UTC()
	return &Insight{
		ID:         types.NewID(),
		DocumentID: documentID,
		UserID:     userID,
		Status:     StatusProcessing,
		Attempts:   1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Outcome reports what RequestGeneration did.
type Outcome string

const (
	// OutcomeGenerated means this call claimed the document and completed the pipeline.
	OutcomeGenerated Outcome = "generated"
	// OutcomeFailed means this call claimed the document and the pipeline failed.
	OutcomeFailed Outcome = "failed"

	OutcomeAlreadyInProgress Outcome = "already_in_progress"
	OutcomeAlreadyCompleted  Outcome = "already_completed"
	// OutcomeRaceLost means another caller created or reclaimed the row first.
	OutcomeRaceLost Outcome = "race_lost"
	// OutcomeRetriesExhausted means the row is failed and may not be retried.
	OutcomeRetriesExhausted Outcome = "retries_exhausted"
)

// Ran reports whether the pipeline body executed for this call.
func (o Outcome) Ran() bool {
	return o == OutcomeGenerated || o == OutcomeFailed
}

// ErrInsightExists is returned by InsightStore.CreateProcessing when the
// document already has an insight row.
var ErrInsightExists = errors.New("insight already exists for document")
