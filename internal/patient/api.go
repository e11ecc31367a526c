package patient

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/types"
)

// Handler provides HTTP handlers for users and their summaries
type Handler struct {
	store Store
}

// NewHandler creates a new user handler
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// Routes registers the user routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.UpsertUser)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", h.GetUser)
		r.Get("/insights", h.GetInsights)
	})

	return r
}

// UpsertUser registers a user by phone number
func (h *Handler) UpsertUser(w http.ResponseWriter, r *http.Request) {
	var req UpsertUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	u, err := h.store.Upsert(r.Context(), NewUser(strings.TrimSpace(req.PhoneNumber), strings.TrimSpace(req.FullName)))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// GetUser gets a user by ID
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	u, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// GetInsights returns the cumulative patient summary, if one was generated
func (h *Handler) GetInsights(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid user ID"))
		return
	}

	u, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if u.PatientInsights == "" {
		writeJSON(w, http.StatusOK, map[string]any{"status": "none"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "completed",
		"insights_html": u.PatientInsights,
		"updated_at":    u.PatientInsightsUpdatedAt,
	})
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
