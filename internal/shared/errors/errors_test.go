package errors

import (
	"errors"
	"net/http"
	"testing"
)

func TestNotFound(t *testing.T) {
	err := NotFound("document", "abc")

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound in chain")
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("expected 404, got %d", err.HTTPStatus)
	}
	if err.Details["id"] != "abc" {
		t.Errorf("expected id detail, got %v", err.Details)
	}
}

func TestStageErrorsKeepCause(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name string
		err  *AppError
		kind error
		code string
	}{
		{"extraction", Extraction("ocr failed", cause), ErrExtraction, "EXTRACTION_FAILED"},
		{"generation", Generation("model unreachable", cause), ErrGeneration, "GENERATION_FAILED"},
		{"persistence", Persistence("write failed", cause), ErrPersistence, "PERSISTENCE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("expected %v in chain", tt.kind)
			}
			if !errors.Is(tt.err, cause) {
				t.Errorf("expected cause in chain")
			}
			if tt.err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, tt.err.Code)
			}
		})
	}
}

func TestStageErrorWithoutCause(t *testing.T) {
	err := Generation("empty output", nil)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration in chain")
	}
	if err.Error() != "empty output: generation failed" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestWrapPreservesKind(t *testing.T) {
	inner := NotFound("user", "u1")
	wrapped := Wrap(inner, "aggregate")

	if wrapped == inner {
		t.Fatalf("expected a new error value")
	}
	if !errors.Is(wrapped, ErrNotFound) {
		t.Errorf("expected ErrNotFound in chain")
	}
	if wrapped.HTTPStatus != http.StatusNotFound {
		t.Errorf("expected 404, got %d", wrapped.HTTPStatus)
	}
	if inner.Message != "user not found" {
		t.Errorf("inner message mutated: %q", inner.Message)
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := HTTPStatus(Unavailable("queue full")); got != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", got)
	}
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", got)
	}
}
