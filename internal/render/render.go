// Package render turns a prefetched page context into HTML and embeds the
// dehydrated query cache so the client can hydrate before first paint.
package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"

	"github.com/seer-pm/seer/internal/querycache"
	"github.com/seer-pm/seer/internal/ssr"
)

// StateID is the id of the script element carrying the dehydrated state.
const StateID = "__SEER_STATE__"

//go:embed templates/*.html
var templateFS embed.FS

// ErrNoState is returned by ExtractState when a page has no embedded state.
var ErrNoState = errors.New("render: no embedded state")

// Renderer renders pages from the embedded templates.
type Renderer struct {
	tmpl *template.Template
}

// New parses the page templates.
func New() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

type view struct {
	ssr.PageContext
	StateID string
	State   template.JS
}

// Render writes the HTML for page to w.
func (r *Renderer) Render(w io.Writer, page ssr.PageContext) error {
	// encoding/json escapes <, > and & so the payload cannot close the script
	// element it lives in.
	state, err := json.Marshal(page.DehydratedState)
	if err != nil {
		return fmt.Errorf("render: encode state: %w", err)
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "page", view{
		PageContext: page,
		StateID:     StateID,
		State:       template.JS(state),
	}); err != nil {
		return fmt.Errorf("render: execute: %w", err)
	}
	_, err = buf.WriteTo(w)
	return err
}

// ExtractState reads the dehydrated state back out of a rendered page.
func ExtractState(html []byte) (querycache.DehydratedState, error) {
	open := []byte(`<script id="` + StateID + `" type="application/json">`)
	start := bytes.Index(html, open)
	if start < 0 {
		return querycache.DehydratedState{}, ErrNoState
	}
	body := html[start+len(open):]
	end := bytes.Index(body, []byte("</script>"))
	if end < 0 {
		return querycache.DehydratedState{}, fmt.Errorf("render: unterminated state element")
	}

	var state querycache.DehydratedState
	if err := json.Unmarshal(bytes.TrimSpace(body[:end]), &state); err != nil {
		return querycache.DehydratedState{}, fmt.Errorf("render: decode state: %w", err)
	}
	return state, nil
}

// HydrateClient builds a client cache pre-filled from state.
func HydrateClient(state querycache.DehydratedState, opts ...querycache.ClientOption) *querycache.Client {
	c := querycache.New(opts...)
	c.Hydrate(state)
	return c
}
