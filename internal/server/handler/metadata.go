package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/fetch"
)

// MetadataService resolves market page metadata.
type MetadataService interface {
	Metadata(ctx context.Context, ref domain.MarketRef, chains []uint64) (domain.MarketMetadata, error)
}

// MetadataHandler serves market-metadata.
type MetadataHandler struct {
	markets MetadataService
	logger  *slog.Logger
}

// NewMetadataHandler creates a MetadataHandler.
func NewMetadataHandler(markets MetadataService, logger *slog.Logger) *MetadataHandler {
	return &MetadataHandler{markets: markets, logger: logger}
}

// MarketMetadata looks a market up by id or url slug across chainsList.
// POST /.netlify/functions/market-metadata
func (h *MetadataHandler) MarketMetadata(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req fetch.MarketMetadataRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, h.logger, "decode market metadata", err)
		return
	}
	if req.ID == "" && req.URL == "" {
		writeError(w, http.StatusBadRequest, "Missing id or url")
		return
	}

	meta, err := h.markets.Metadata(r.Context(), domain.MarketRef{ID: req.ID, URL: req.URL}, req.ChainsList)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Market not found")
			return
		}
		fail(w, r, h.logger, "market metadata", err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
