package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/seer-pm/seer/internal/domain"
)

// AirdropService is what AirdropHandler needs from the service layer.
type AirdropService interface {
	Allocation(ctx context.Context, address string, chainID uint64) (domain.AirdropAllocation, error)
}

// AirdropHandler serves get-airdrop-data.
type AirdropHandler struct {
	airdrops AirdropService
	logger   *slog.Logger
}

// NewAirdropHandler creates an AirdropHandler.
func NewAirdropHandler(airdrops AirdropService, logger *slog.Logger) *AirdropHandler {
	return &AirdropHandler{airdrops: airdrops, logger: logger}
}

// GetAirdropData returns one account's allocation.
// GET /.netlify/functions/get-airdrop-data?address=&chainId=
func (h *AirdropHandler) GetAirdropData(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	address := q.Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "Missing address")
		return
	}
	var chainID uint64
	if v := q.Get("chainId"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid chainId")
			return
		}
		chainID = n
	}

	a, err := h.airdrops.Allocation(r.Context(), address, chainID)
	if err != nil {
		fail(w, r, h.logger, "get airdrop data", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
