package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/server/middleware"
)

// CollectionService is what CollectionsHandler needs from the service layer.
type CollectionService interface {
	List(ctx context.Context, userID string) ([]domain.Collection, error)
	Create(ctx context.Context, userID, name string, marketIDs []string) (domain.Collection, error)
	Rename(ctx context.Context, userID, id, name string) error
	Delete(ctx context.Context, userID, id string) error
	ToggleMarket(ctx context.Context, userID, id, marketID string) (bool, error)
	Search(ctx context.Context, query string) ([]domain.CollectionSearchHit, error)
}

// CollectionsHandler serves collections-search and collections-handler.
type CollectionsHandler struct {
	collections CollectionService
	logger      *slog.Logger
}

// NewCollectionsHandler creates a CollectionsHandler.
func NewCollectionsHandler(collections CollectionService, logger *slog.Logger) *CollectionsHandler {
	return &CollectionsHandler{collections: collections, logger: logger}
}

// Search matches collection names case-insensitively.
// GET /.netlify/functions/collections-search?query=
func (h *CollectionsHandler) Search(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	hits, err := h.collections.Search(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		fail(w, r, h.logger, "collections search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": hits})
}

// Collections lists or creates the caller's collections.
// GET|POST /.netlify/functions/collections-handler
func (h *CollectionsHandler) Collections(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet {
		cs, err := h.collections.List(r.Context(), user)
		if err != nil {
			fail(w, r, h.logger, "list collections", err)
			return
		}
		if cs == nil {
			cs = []domain.Collection{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": cs})
		return
	}

	var body struct {
		Name      string   `json:"name"`
		MarketIDs []string `json:"marketIds"`
	}
	if err := decodeJSON(r, &body); err != nil {
		fail(w, r, h.logger, "decode collection", err)
		return
	}
	c, err := h.collections.Create(r.Context(), user, body.Name, body.MarketIDs)
	if err != nil {
		fail(w, r, h.logger, "create collection", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": c})
}

// Collection renames or deletes one collection.
// PATCH|DELETE /.netlify/functions/collections-handler/{id}
func (h *CollectionsHandler) Collection(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPatch, http.MethodDelete) {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	if r.Method == http.MethodDelete {
		if err := h.collections.Delete(r.Context(), user, id); err != nil {
			fail(w, r, h.logger, "delete collection", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &body); err != nil {
		fail(w, r, h.logger, "decode collection", err)
		return
	}
	if err := h.collections.Rename(r.Context(), user, id, body.Name); err != nil {
		fail(w, r, h.logger, "rename collection", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ToggleMarket adds or removes a market.
// POST /.netlify/functions/collections-handler/{id}/markets
func (h *CollectionsHandler) ToggleMarket(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body struct {
		MarketID string `json:"marketId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		fail(w, r, h.logger, "decode toggle", err)
		return
	}
	added, err := h.collections.ToggleMarket(r.Context(), user, r.PathValue("id"), body.MarketID)
	if err != nil {
		fail(w, r, h.logger, "toggle collection market", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := middleware.UserID(r.Context())
	if user == "" {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return "", false
	}
	return user, true
}
