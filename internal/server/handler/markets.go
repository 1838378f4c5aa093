package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/seer-pm/seer/internal/domain"
)

// MarketsBlob returns the raw all-markets snapshot.
type MarketsBlob interface {
	Raw(ctx context.Context) ([]byte, error)
}

// AllMarketsHandler serves the all-markets-search edge endpoint.
type AllMarketsHandler struct {
	blob   MarketsBlob
	logger *slog.Logger
}

// NewAllMarketsHandler creates an AllMarketsHandler.
func NewAllMarketsHandler(blob MarketsBlob, logger *slog.Logger) *AllMarketsHandler {
	return &AllMarketsHandler{blob: blob, logger: logger}
}

// AllMarkets streams the stored snapshot. A missing or empty snapshot is a
// server error.
// GET /.netlify/edge-functions/all-markets-search
func (h *AllMarketsHandler) AllMarkets(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	data, err := h.blob.Raw(r.Context())
	if err == nil && isEmptyBlob(data) {
		err = errors.New("all markets: empty snapshot")
	}
	if errors.Is(err, domain.ErrNotFound) {
		err = errors.New("all markets: snapshot missing")
	}
	if err != nil {
		fail(w, r, h.logger, "all markets", err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func isEmptyBlob(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("[]")) || bytes.Equal(trimmed, []byte("null"))
}
