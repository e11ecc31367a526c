package document

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/logger"
	"github.com/medsum/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the document module
type Handler struct {
	store Store
	log   *logger.Logger
}

// NewHandler creates a new document handler
func NewHandler(store Store, log *logger.Logger) *Handler {
	return &Handler{store: store, log: log.With("component", "document.api")}
}

// Routes registers the document routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListDocuments)
	r.Post("/", h.CreateDocument)

	r.Get("/{documentID}", h.GetDocument)
	r.Delete("/{documentID}", h.DeleteDocument)

	return r
}

// ListDocuments lists a user's documents
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	userID, err := types.ParseID(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, errors.BadRequest("user_id query parameter is required"))
		return
	}

	docs, err := h.store.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []Document{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  docs,
		"total": len(docs),
	})
}

// GetDocument gets a document by ID
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid document ID"))
		return
	}

	doc, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// CreateDocument registers an already stored file
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	userID, err := types.ParseID(req.UserID.String())
	if err != nil {
		writeError(w, errors.Validation("invalid document", map[string]string{"user_id": "must be a UUID"}))
		return
	}

	doc, err := NewDocument(userID, req.OriginalName, req.ContentType, req.StoragePath)
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	if err := h.store.Create(r.Context(), doc); err != nil {
		writeError(w, err)
		return
	}

	h.log.Info("document registered", "document_id", doc.ID, "user_id", doc.UserID)
	writeJSON(w, http.StatusCreated, doc)
}

// DeleteDocument removes a document and its insight
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid document ID"))
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
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
