package handlers

import (
	"context"
	"net/http"
	"strconv"

	"movesia/internal/contextutil"
	"movesia/internal/vectorstore"
)

const defaultSearchK = 8

// Embedder is the minimal embedding contract the search handler needs.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchHandler embeds a query and runs top-K cosine search.
type SearchHandler struct {
	embedder Embedder
	vectors  vectorstore.VectorIndex
}

// NewSearchHandler creates the search handler.
func NewSearchHandler(emb Embedder, vectors vectorstore.VectorIndex) *SearchHandler {
	return &SearchHandler{embedder: emb, vectors: vectors}
}

type searchHit struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// ServeHTTP handles GET /api/search?q=...&k=...&kind=...&rel_path=...&threshold=...
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	k := defaultSearchK
	if raw := r.URL.Query().Get("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "k must be a positive integer")
			return
		}
		k = parsed
	}

	filters := map[string]string{}
	for _, field := range []string{"kind", "rel_path", "guid"} {
		if v := r.URL.Query().Get(field); v != "" {
			filters[field] = v
		}
	}

	var threshold *float32
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "threshold must be a number")
			return
		}
		f := float32(parsed)
		threshold = &f
	}

	vecs, err := h.embedder.EmbedTexts(ctx, []string{q})
	if err != nil {
		logger.ErrorContext(ctx, "query embedding failed", "error", err)
		writeError(w, http.StatusBadGateway, "embedding failed")
		return
	}

	results, err := h.vectors.Search(ctx, vecs[0], k, filters, threshold)
	if err != nil {
		logger.ErrorContext(ctx, "search failed", "error", err)
		writeError(w, http.StatusBadGateway, "search failed")
		return
	}

	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{ID: res.ID, Score: res.Score, Payload: res.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}
