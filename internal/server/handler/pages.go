package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/ssr"
)

// Prefetcher resolves page data before render.
type Prefetcher interface {
	PrefetchHome(ctx context.Context, filters domain.MarketFilters) ssr.PageContext
	PrefetchMarket(ctx context.Context, ref domain.MarketRef) ssr.PageContext
}

// PageRenderer writes a page.
type PageRenderer interface {
	Render(w io.Writer, page ssr.PageContext) error
}

// PagesHandler serves the server-rendered pages.
type PagesHandler struct {
	prefetch Prefetcher
	render   PageRenderer
	logger   *slog.Logger
}

// NewPagesHandler creates a PagesHandler.
func NewPagesHandler(prefetch Prefetcher, render PageRenderer, logger *slog.Logger) *PagesHandler {
	return &PagesHandler{prefetch: prefetch, render: render, logger: logger}
}

// Home renders the market list.
// GET /?text=&creator=&chainId=&resolved=
func (h *PagesHandler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	h.write(w, r, h.prefetch.PrefetchHome(r.Context(), filtersFromQuery(r)))
}

// Market renders one market page. Metadata failures degrade to the default
// title and description; the page itself always renders.
// GET /markets/{chainId}/{idOrSlug}
func (h *PagesHandler) Market(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseUint(r.PathValue("chainId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	h.write(w, r, h.prefetch.PrefetchMarket(r.Context(), refFor(chainID, r.PathValue("idOrSlug"))))
}

func (h *PagesHandler) write(w http.ResponseWriter, r *http.Request, page ssr.PageContext) {
	var buf bytes.Buffer
	if err := h.render.Render(&buf, page); err != nil {
		fail(w, r, h.logger, "render page", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// refFor treats a hex address as the market id and anything else as its slug.
func refFor(chainID uint64, idOrSlug string) domain.MarketRef {
	if common.IsHexAddress(idOrSlug) {
		return domain.MarketRef{ChainID: chainID, ID: strings.ToLower(idOrSlug)}
	}
	return domain.MarketRef{ChainID: chainID, URL: idOrSlug}
}

func filtersFromQuery(r *http.Request) domain.MarketFilters {
	q := r.URL.Query()
	f := domain.MarketFilters{
		Text:    strings.TrimSpace(q.Get("text")),
		Creator: strings.ToLower(q.Get("creator")),
	}
	for _, v := range q["chainId"] {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			f.ChainIDs = append(f.ChainIDs, id)
		}
	}
	if v := q.Get("resolved"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			f.Resolved = &b
		}
	}
	return f
}
