package indexer

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"movesia/internal/chunk"
	"movesia/internal/contextutil"
	"movesia/internal/event"
	"movesia/internal/vectorstore"
)

const (
	fileReadAttempts = 5
	fileReadBackoff  = 150 * time.Millisecond
)

// zeroVectorEpsilon mirrors the embedder's zero-vector guard; the pipeline
// re-checks because a swapped-in embedder implementation may not.
const zeroVectorEpsilon = 1e-8

// indexFile runs the per-event pipeline for one textual asset:
// delete stale points, read with bounded retry, chunk, embed, guard, upsert.
func (ix *Indexer) indexFile(ctx context.Context, root, relPath, guid string, scene bool, ts int64, sessionID string) error {
	logger := contextutil.LoggerFromContext(ctx)
	rel := event.NormalizeRelPath(relPath)

	// Stale points first: old chunks must not survive an edit or move.
	if err := ix.vectors.DeleteByPath(ctx, rel); err != nil {
		return fmt.Errorf("delete stale points for %s: %w", rel, err)
	}

	abs := filepath.Join(root, filepath.FromSlash(rel))
	content, err := readFileWithRetry(ctx, abs)
	if err != nil {
		return fmt.Errorf("read %s: %w", abs, err)
	}

	params := chunk.ScriptParams()
	kind := "Script"
	if scene {
		params = chunk.SceneParams()
		kind = "Scene"
	}

	chunks := chunk.Split(string(content), params)
	if len(chunks) == 0 {
		logger.DebugContext(ctx, "empty file, nothing to embed", "rel_path", rel)
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vecs, err := ix.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", rel, err)
	}
	if err := guardVectors(vecs, len(chunks), ix.embedder.Dim()); err != nil {
		return fmt.Errorf("embed %s: %w", rel, err)
	}

	points := ix.buildPoints(abs, rel, guid, kind, sessionID, ts, chunks, vecs)
	if err := ix.vectors.UpsertPoints(ctx, points); err != nil {
		return fmt.Errorf("upsert points for %s: %w", rel, err)
	}

	logger.InfoContext(ctx, "indexed file", "rel_path", rel, "chunks", len(chunks), "kind", kind)
	return nil
}

// guardVectors rejects embedding batches whose shape cannot be trusted.
func guardVectors(vecs [][]float32, wantCount, wantDim int) error {
	if len(vecs) != wantCount {
		return fmt.Errorf("vector count %d does not match chunk count %d", len(vecs), wantCount)
	}
	for i, v := range vecs {
		if len(v) != wantDim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), wantDim)
		}
		var l1 float64
		for _, x := range v {
			l1 += math.Abs(float64(x))
		}
		if l1 < zeroVectorEpsilon {
			return fmt.Errorf("vector %d is effectively zero", i)
		}
	}
	return nil
}

// buildPoints assembles the upsert batch with deterministic point IDs.
func (ix *Indexer) buildPoints(abs, rel, guid, kind, sessionID string, ts int64, chunks []chunk.Chunk, vecs [][]float32) []vectorstore.Point {
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		payload := map[string]any{
			"rel_path":   rel,
			"range":      c.Range(),
			"file_hash":  c.Fingerprint,
			"kind":       kind,
			"updated_ts": ts,
			"text":       c.Text,
		}
		if guid != "" {
			payload["guid"] = event.NormalizeGUID(guid)
		}
		if sessionID != "" {
			payload["session"] = sessionID
		}
		points[i] = vectorstore.Point{
			ID:      chunk.PointID(chunk.Key(abs, c)),
			Vector:  vecs[i],
			Payload: payload,
		}
	}
	return points
}

// readFileWithRetry reads a file, retrying not-found errors only: the editor
// may emit an event before the file is visible on disk. Any other I/O error
// is fatal for the event.
func readFileWithRetry(ctx context.Context, path string) ([]byte, error) {
	return retryWithBackoff(ctx, fileReadAttempts, fileReadBackoff, os.IsNotExist, func() ([]byte, error) {
		return os.ReadFile(path)
	})
}
