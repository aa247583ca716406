// Package vectorstore is the thin gateway over the Qdrant backend: one
// collection holding the embedded chunks of every textual asset, keyed by
// deterministic point IDs.
package vectorstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_vector_index.go -package=mocks movesia/internal/vectorstore VectorIndex

import (
	"context"
	"errors"
	"time"
)

// ErrBackendUnavailable is returned when the readiness probe times out.
var ErrBackendUnavailable = errors.New("vector backend unavailable")

// Point is one embedded chunk ready for upsert.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is one search hit.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// VectorIndex defines the gateway operations the core depends on.
type VectorIndex interface {
	// EnsureCollection idempotently creates the collection with cosine
	// distance and the declared vector size, then ensures keyword payload
	// indices on rel_path and guid.
	EnsureCollection(ctx context.Context, dim int) error

	// WaitReady polls the readiness probe until success or deadline.
	// Fails with ErrBackendUnavailable on timeout.
	WaitReady(ctx context.Context, timeout time.Duration) error

	// UpsertPoints writes one batch; the batch is atomic from the caller's
	// perspective.
	UpsertPoints(ctx context.Context, points []Point) error

	// DeleteByPath removes every point whose payload rel_path matches the
	// normalized path exactly.
	DeleteByPath(ctx context.Context, relPath string) error

	// DeleteByGUID removes every point whose payload guid matches.
	DeleteByGUID(ctx context.Context, guid string) error

	// DeleteByIDs removes explicit point IDs.
	DeleteByIDs(ctx context.Context, ids []string) error

	// Search returns the top-K cosine matches with optional exact payload
	// filters and an optional score threshold.
	Search(ctx context.Context, query []float32, k int, filters map[string]string, threshold *float32) ([]ScoredPoint, error)

	// CountPoints returns the exact point count of the collection.
	CountPoints(ctx context.Context) (uint64, error)

	// DropCollection deletes the collection. Missing collection is not an error.
	DropCollection(ctx context.Context) error
}
