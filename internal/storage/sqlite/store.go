package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/medsum/platform/internal/document"
	"github.com/medsum/platform/internal/insight"
	"github.com/medsum/platform/internal/patient"
	"github.com/medsum/platform/internal/storage/sqlite/migrations"
	apperrors "github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/types"
)

// Timestamps are stored as fixed-width UTC text so ORDER BY sorts them
// chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a single-file SQLite backend exposing the document, insight
// and user stores through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and applies migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer keeps the claim insert and conditional updates serialised
	// without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Documents returns the document store view.
func (s *Store) Documents() document.Store { return &documentStore{s} }

// Insights returns the insight store view.
func (s *Store) Insights() insight.InsightStore { return &insightStore{s} }

// Users returns the user store view.
func (s *Store) Users() patient.Store { return &userStore{s} }

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ==================== Document Store ====================

type documentStore struct{ s *Store }

const documentColumns = `id, user_id, original_name, content_type, storage_path,
	extracted_markdown, uploaded_at, updated_at`

func (d *documentStore) Create(ctx context.Context, doc *document.Document) error {
	_, err := d.s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID.String(), doc.UserID.String(), doc.OriginalName, doc.ContentType, doc.StoragePath,
		nullIfEmpty(doc.ExtractedMarkdown), formatTimePtr(doc.UploadedAt), formatTime(doc.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("document already exists")
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return apperrors.NotFound("user", doc.UserID.String())
		}
		return apperrors.Wrap(err, "failed to save document")
	}
	return nil
}

func (d *documentStore) FindByID(ctx context.Context, id types.ID) (*document.Document, error) {
	row := d.s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id.String())
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("document", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to find document")
	}
	return doc, nil
}

func (d *documentStore) ListByUser(ctx context.Context, userID types.ID) ([]document.Document, error) {
	return d.list(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE user_id = ?
		ORDER BY uploaded_at DESC NULLS LAST, id`, userID.String())
}

func (d *documentStore) ListWithMarkdown(ctx context.Context, userID types.ID) ([]document.Document, error) {
	return d.list(ctx, `SELECT `+documentColumns+` FROM documents
		WHERE user_id = ? AND extracted_markdown IS NOT NULL AND trim(extracted_markdown) <> ''
		ORDER BY uploaded_at ASC NULLS LAST, id`, userID.String())
}

func (d *documentStore) list(ctx context.Context, query string, args ...any) ([]document.Document, error) {
	rows, err := d.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list documents")
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan document")
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to list documents")
	}
	return docs, nil
}

func (d *documentStore) SaveExtractedMarkdown(ctx context.Context, id types.ID, markdown string) error {
	result, err := d.s.db.ExecContext(ctx, `
		UPDATE documents SET extracted_markdown = ?, updated_at = ?
		WHERE id = ? AND (extracted_markdown IS NULL OR trim(extracted_markdown) = '')`,
		markdown, formatTime(time.Now()), id.String(),
	)
	if err != nil {
		return apperrors.Persistence("failed to save extracted markdown", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := d.FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (d *documentStore) Delete(ctx context.Context, id types.ID) error {
	result, err := d.s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id.String())
	if err != nil {
		return apperrors.Wrap(err, "failed to delete document")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFound("document", id.String())
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Document, error) {
	var (
		doc                document.Document
		markdown, uploaded sql.NullString
		updated            string
	)
	err := row.Scan(&doc.ID, &doc.UserID, &doc.OriginalName, &doc.ContentType, &doc.StoragePath,
		&markdown, &uploaded, &updated)
	if err != nil {
		return nil, err
	}
	doc.ExtractedMarkdown = markdown.String
	if doc.UploadedAt, err = parseTimePtr(uploaded); err != nil {
		return nil, err
	}
	if doc.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ==================== Insight Store ====================

type insightStore struct{ s *Store }

func (i *insightStore) FindByDocument(ctx context.Context, documentID types.ID) (*insight.Insight, error) {
	var (
		in                 insight.Insight
		html, errMsg       sql.NullString
		status             string
		created, updatedAt string
	)
	err := i.s.db.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, html_insights, status, error_message,
			attempts, created_at, updated_at
		FROM insights WHERE document_id = ?`, documentID.String(),
	).Scan(&in.ID, &in.DocumentID, &in.UserID, &html, &status, &errMsg, &in.Attempts, &created, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("insight", documentID.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to find insight")
	}

	in.HTMLInsights = html.String
	in.ErrorMessage = errMsg.String
	in.Status = insight.Status(status)
	if in.CreatedAt, err = parseTime(created); err != nil {
		return nil, apperrors.Wrap(err, "failed to parse insight")
	}
	if in.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, apperrors.Wrap(err, "failed to parse insight")
	}
	return &in, nil
}

func (i *insightStore) CreateProcessing(ctx context.Context, in *insight.Insight) error {
	_, err := i.s.db.ExecContext(ctx, `
		INSERT INTO insights (id, document_id, user_id, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID.String(), in.DocumentID.String(), in.UserID.String(), string(insight.StatusProcessing),
		in.Attempts, formatTime(in.CreatedAt), formatTime(in.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", insight.ErrInsightExists, in.DocumentID)
		}
		return err
	}
	return nil
}

func (i *insightStore) Reclaim(ctx context.Context, documentID types.ID, maxAttempts int) (bool, error) {
	result, err := i.s.db.ExecContext(ctx, `
		UPDATE insights
		SET status = ?, error_message = NULL, attempts = attempts + 1, updated_at = ?
		WHERE document_id = ? AND status = ? AND attempts < ?`,
		string(insight.StatusProcessing), formatTime(time.Now()), documentID.String(),
		string(insight.StatusFailed), maxAttempts,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

func (i *insightStore) Complete(ctx context.Context, documentID types.ID, html string) error {
	result, err := i.s.db.ExecContext(ctx, `
		UPDATE insights
		SET html_insights = ?, status = ?, error_message = NULL, updated_at = ?
		WHERE document_id = ? AND status = ?`,
		html, string(insight.StatusCompleted), formatTime(time.Now()), documentID.String(),
		string(insight.StatusProcessing),
	)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("insight for document %s is not processing", documentID)
	}
	return nil
}

func (i *insightStore) MarkFailed(ctx context.Context, documentID types.ID, message string) error {
	_, err := i.s.db.ExecContext(ctx, `
		UPDATE insights SET status = ?, error_message = ?, updated_at = ?
		WHERE document_id = ? AND status = ?`,
		string(insight.StatusFailed), message, formatTime(time.Now()), documentID.String(),
		string(insight.StatusProcessing),
	)
	return err
}

// ==================== User Store ====================

type userStore struct{ s *Store }

const userColumns = `id, phone_number, full_name, patient_insights, patient_insights_updated_at, created_at`

func (u *userStore) Upsert(ctx context.Context, user *patient.User) (*patient.User, error) {
	if user.PhoneNumber == "" {
		_, err := u.s.db.ExecContext(ctx, `
			INSERT INTO users (id, full_name, created_at) VALUES (?, ?, ?)`,
			user.ID.String(), nullIfEmpty(user.FullName), formatTime(user.CreatedAt),
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to save user")
		}
		return user, nil
	}

	row := u.s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, phone_number, full_name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (phone_number) DO UPDATE
			SET full_name = COALESCE(excluded.full_name, users.full_name)
		RETURNING `+userColumns,
		user.ID.String(), user.PhoneNumber, nullIfEmpty(user.FullName), formatTime(user.CreatedAt),
	)
	saved, err := scanUser(row)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to save user")
	}
	return saved, nil
}

func (u *userStore) FindByID(ctx context.Context, id types.ID) (*patient.User, error) {
	user, err := scanUser(u.s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to find user")
	}
	return user, nil
}

func (u *userStore) SavePatientInsights(ctx context.Context, id types.ID, html string) error {
	result, err := u.s.db.ExecContext(ctx, `
		UPDATE users SET patient_insights = ?, patient_insights_updated_at = ? WHERE id = ?`,
		html, formatTime(time.Now()), id.String(),
	)
	if err != nil {
		return apperrors.Persistence("failed to save patient insights", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperrors.NotFound("user", id.String())
	}
	return nil
}

func scanUser(row rowScanner) (*patient.User, error) {
	var (
		user                        patient.User
		phone, name, notes, notesAt sql.NullString
		created                     string
	)
	if err := row.Scan(&user.ID, &phone, &name, &notes, &notesAt, &created); err != nil {
		return nil, err
	}
	user.PhoneNumber = phone.String
	user.FullName = name.String
	user.PatientInsights = notes.String

	var err error
	if user.PatientInsightsUpdatedAt, err = parseTimePtr(notesAt); err != nil {
		return nil, err
	}
	if user.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &user, nil
}
