package document

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medsum/platform/internal/shared/types"
)

// Document is an uploaded source file plus the markdown derived from it.
type Document struct {
	ID           types.ID `json:"id"`
	UserID       types.ID `json:"user_id"`
	OriginalName string   `json:"original_name"`
	ContentType  string   `json:"content_type"`
	StoragePath  string   `json:"storage_path"`

	// ExtractedMarkdown is written at most once; empty means not yet extracted.
	ExtractedMarkdown string `json:"extracted_markdown,omitempty"`

	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HasMarkdown reports whether extraction output is cached on the document.
func (d *Document) HasMarkdown() bool {
	return strings.TrimSpace(d.ExtractedMarkdown) != ""
}

// NewDocument registers metadata for a file that is already stored.
func NewDocument(userID types.ID, originalName, contentType, storagePath string) (*Document, error) {
	if userID.IsZero() {
		return nil, fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(storagePath) == "" {
		return nil, fmt.Errorf("storage_path is required")
	}
	if originalName == "" {
		originalName = storagePath[strings.LastIndexAny(storagePath, `/\`)+1:]
	}

	now := time.Now().UTC()
	return &Document{
		ID:           types.NewID(),
		UserID:       userID,
		OriginalName: originalName,
		ContentType:  contentType,
		StoragePath:  storagePath,
		UploadedAt:   &now,
		UpdatedAt:    now,
	}, nil
}

// Store is the persistence contract for documents.
type Store interface {
	Create(ctx context.Context, d *Document) error
	FindByID(ctx context.Context, id types.ID) (*Document, error)
	ListByUser(ctx context.Context, userID types.ID) ([]Document, error)
	// ListWithMarkdown returns the user's documents with cached markdown,
	// oldest upload first; documents without an upload time sort last.
	ListWithMarkdown(ctx context.Context, userID types.ID) ([]Document, error)
	// SaveExtractedMarkdown only writes when no markdown is cached yet.
	SaveExtractedMarkdown(ctx context.Context, id types.ID, markdown string) error
	Delete(ctx context.Context, id types.ID) error
}

// CreateDocumentRequest is the registration payload
type CreateDocumentRequest struct {
	UserID       types.ID `json:"user_id"`
	OriginalName string   `json:"original_name"`
	ContentType  string   `json:"content_type"`
	StoragePath  string   `json:"storage_path"`
}
