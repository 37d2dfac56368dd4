package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler serves catalog lookups over HTTP so clients resolve card
// metadata without their own database connection. Responses are JSON
// Entry documents; a miss is 404, never a placeholder.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// NewHandler creates a handler over the given catalog service.
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the catalog routes on r:
//
//	GET /cards?name=...&exact=true  — lookup by name
//	GET /cards/search?q=...         — full-text search
//	GET /cards/{id}                 — lookup by catalog id
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/cards", h.getByName).Methods(http.MethodGet)
	r.HandleFunc("/cards/search", h.search).Methods(http.MethodGet)
	r.HandleFunc("/cards/{id}", h.getByID).Methods(http.MethodGet)
}

func (h *Handler) getByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Warn("catalog lookup failed", zap.String("card_id", id), zap.Error(err))
		http.Error(w, "catalog query failed", http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "card not found", http.StatusNotFound)
		return
	}
	writeJSON(w, entry)
}

func (h *Handler) getByName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}
	exact := r.URL.Query().Get("exact") == "true"
	entry, err := h.svc.GetByName(r.Context(), name, exact)
	if err != nil {
		h.logger.Warn("catalog lookup failed", zap.String("name", name), zap.Error(err))
		http.Error(w, "catalog query failed", http.StatusInternalServerError)
		return
	}
	if entry == nil {
		http.Error(w, "card not found", http.StatusNotFound)
		return
	}
	writeJSON(w, entry)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q required", http.StatusBadRequest)
		return
	}
	entries, err := h.svc.SearchByText(r.Context(), query)
	if err != nil {
		h.logger.Warn("catalog search failed", zap.String("query", query), zap.Error(err))
		http.Error(w, "catalog query failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}
	writeJSON(w, entries)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
