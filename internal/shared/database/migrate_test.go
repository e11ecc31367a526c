package database

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationFilesOrdered(t *testing.T) {
	files, err := MigrationFiles()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for i := 1; i < len(files); i++ {
		if files[i-1] >= files[i] {
			t.Errorf("migrations out of order: %s before %s", files[i-1], files[i])
		}
	}
}

func TestInitMigrationDeclaresInsightUniqueness(t *testing.T) {
	content, err := fs.ReadFile(migrationsFS, "migrations/001_init.sql")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sql := string(content)
	if !strings.Contains(sql, "document_id UUID NOT NULL UNIQUE") {
		t.Error("insights.document_id must be unique")
	}
	if !strings.Contains(sql, "insights_completed_has_html") {
		t.Error("expected completed/html check constraint")
	}
}
