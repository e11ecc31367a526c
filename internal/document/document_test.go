package document

import (
	"testing"

	"github.com/medsum/platform/internal/shared/types"
)

func TestNewDocument(t *testing.T) {
	userID := types.NewID()

	doc, err := NewDocument(userID, "lab.pdf", "application/pdf", "uploads/u1/lab.pdf")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if doc.ID.IsZero() {
		t.Error("Expected non-zero ID")
	}
	if doc.UserID != userID {
		t.Error("User ID mismatch")
	}
	if doc.UploadedAt == nil {
		t.Error("Expected upload timestamp")
	}
	if doc.HasMarkdown() {
		t.Error("New document should have no cached markdown")
	}
}

func TestNewDocumentValidation(t *testing.T) {
	tests := []struct {
		name        string
		userID      types.ID
		path        string
		expectError bool
	}{
		{"missing user", "", "a.png", true},
		{"missing path", types.NewID(), "  ", true},
		{"valid", types.NewID(), "a.png", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDocument(tt.userID, "", "image/png", tt.path)
			if tt.expectError && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
		})
	}
}

func TestNewDocumentDefaultsName(t *testing.T) {
	doc, err := NewDocument(types.NewID(), "", "image/jpeg", "uploads/u1/scan-01.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.OriginalName != "scan-01.jpg" {
		t.Errorf("Expected name from path, got %s", doc.OriginalName)
	}
}

func TestHasMarkdown(t *testing.T) {
	tests := []struct {
		markdown string
		want     bool
	}{
		{"", false},
		{"  \n", false},
		{"# Lab", true},
	}
	for _, tt := range tests {
		d := Document{ExtractedMarkdown: tt.markdown}
		if got := d.HasMarkdown(); got != tt.want {
			t.Errorf("HasMarkdown(%q) = %v, want %v", tt.markdown, got, tt.want)
		}
	}
}
