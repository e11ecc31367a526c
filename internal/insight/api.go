package insight

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/types"
)

// Trigger schedules generation for a document.
type Trigger interface {
	Trigger(ctx context.Context, documentID types.ID, requestID string) error
}

// Summarizer produces the cumulative patient summary.
type Summarizer interface {
	Aggregate(ctx context.Context, userID types.ID) (string, error)
}

// Handler provides HTTP handlers for insight triggers and polling
type Handler struct {
	trigger    Trigger
	summarizer Summarizer
	documents  DocumentStore
	insights   InsightStore
}

// NewHandler creates a new insight handler
func NewHandler(trigger Trigger, summarizer Summarizer, documents DocumentStore, insights InsightStore) *Handler {
	return &Handler{
		trigger:    trigger,
		summarizer: summarizer,
		documents:  documents,
		insights:   insights,
	}
}

// InternalRoutes registers the trigger endpoints
func (h *Handler) InternalRoutes() chi.Router {
	r := chi.NewRouter()

	r.Post("/generate-insights", h.GenerateInsights)
	r.Post("/generate-user-insights", h.GenerateUserInsights)

	return r
}

type generateInsightsRequest struct {
	DocumentID string `json:"document_id"`
}

type generateUserInsightsRequest struct {
	UserID string `json:"user_id"`
}

// GenerateInsights enqueues generation and acknowledges immediately
func (h *Handler) GenerateInsights(w http.ResponseWriter, r *http.Request) {
	var req generateInsightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	id, err := types.ParseID(req.DocumentID)
	if err != nil {
		writeError(w, errors.Validation("invalid request", map[string]string{"document_id": "must be a UUID"}))
		return
	}

	if err := h.trigger.Trigger(r.Context(), id, middleware.GetReqID(r.Context())); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "accepted",
		"document_id": id,
	})
}

// GenerateUserInsights runs aggregation synchronously
func (h *Handler) GenerateUserInsights(w http.ResponseWriter, r *http.Request) {
	var req generateUserInsightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	id, err := types.ParseID(req.UserID)
	if err != nil {
		writeError(w, errors.Validation("invalid request", map[string]string{"user_id": "must be a UUID"}))
		return
	}

	// A client hanging up must not cut the summary off half-way.
	html, err := h.summarizer.Aggregate(context.WithoutCancel(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "completed",
		"html":   html,
	})
}

// GetDocumentInsight reports the persisted insight status for polling
func (h *Handler) GetDocumentInsight(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid document ID"))
		return
	}

	if _, err := h.documents.FindByID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	in, err := h.insights.FindByDocument(r.Context(), id)
	if errors.Is(err, errors.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{
			"document_id": id,
			"status":      "pending",
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"document_id": id,
		"status":      in.Status,
		"attempts":    in.Attempts,
		"updated_at":  in.UpdatedAt,
	}
	if in.Status == StatusCompleted {
		resp["insights_html"] = in.HTMLInsights
	}
	if in.ErrorMessage != "" {
		resp["error_message"] = in.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
