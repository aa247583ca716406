// Package reconciler diffs a streamed project manifest against the catalog
// and resolves the minimal set of adds, moves, modifies and deletes,
// delegating all re-indexing to the indexer's pipeline.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"movesia/internal/catalog"
	"movesia/internal/contextutil"
	"movesia/internal/event"
	"movesia/internal/indexer"
	"movesia/internal/progress"
	"movesia/internal/vectorstore"
)

// Stats summarizes one reconciliation pass.
type Stats struct {
	Added    int `json:"added"`
	Deleted  int `json:"deleted"`
	Moved    int `json:"moved"`
	Modified int `json:"modified"`
}

// move records a rename pending its stale-point cleanup.
type move struct {
	guid string
	from string
	to   string
}

// Reconciler buffers manifest batches per session and executes the diff on
// manifest_end.
type Reconciler struct {
	catalog *catalog.Store
	vectors vectorstore.VectorIndex
	indexer *indexer.Indexer
	bus     *progress.Bus

	mu      sync.Mutex
	pending map[string][]event.AssetItem
	totals  map[string]int
}

// New constructs a Reconciler delegating re-indexing to ix.
func New(cat *catalog.Store, vectors vectorstore.VectorIndex, ix *indexer.Indexer, bus *progress.Bus) *Reconciler {
	return &Reconciler{
		catalog: cat,
		vectors: vectors,
		indexer: ix,
		bus:     bus,
		pending: make(map[string][]event.AssetItem),
		totals:  make(map[string]int),
	}
}

// HandleManifestEvent routes manifest_begin / manifest_batch / manifest_end.
// The diff runs only once end arrives; begin and batch just buffer.
func (r *Reconciler) HandleManifestEvent(ctx context.Context, env event.Envelope, root string) error {
	body := env.Body
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := r.catalog.LogEvent(ctx, env.TS, env.Session, env.Type, body); err != nil {
		return err
	}

	switch env.Type {
	case event.TypeManifestBegin:
		var marker event.ManifestMarkerBody
		if err := env.DecodeBody(&marker); err != nil {
			return err
		}
		r.mu.Lock()
		r.pending[env.Session] = nil
		r.totals[env.Session] = marker.Total
		r.mu.Unlock()
		r.publish(progress.Status{Phase: progress.PhaseScanning, Total: marker.Total,
			Message: "Checking for changes…"})
		return nil

	case event.TypeManifestBatch:
		var body event.ItemsBody
		if err := env.DecodeBody(&body); err != nil {
			return err
		}
		r.mu.Lock()
		r.pending[env.Session] = append(r.pending[env.Session], body.Items...)
		r.mu.Unlock()
		return nil

	case event.TypeManifestEnd:
		r.mu.Lock()
		items := r.pending[env.Session]
		delete(r.pending, env.Session)
		delete(r.totals, env.Session)
		r.mu.Unlock()

		stats, err := r.Reconcile(ctx, root, items, env.TS, env.Session)
		if err != nil {
			r.publish(progress.Status{Phase: progress.PhaseError,
				Message: "Reconciliation failed", Err: err.Error()})
			return err
		}
		raw, _ := json.Marshal(stats)
		r.publish(progress.Status{Phase: progress.PhaseComplete, Total: len(items),
			Done: len(items), Message: string(raw)})
		return nil

	default:
		return fmt.Errorf("not a manifest event: %s", env.Type)
	}
}

// Reconcile executes the single-pass diff of manifest items against the live
// catalog. Folders are ignored. Re-index work is handed to the indexer as
// synthetic events reusing the per-event pipeline.
func (r *Reconciler) Reconcile(ctx context.Context, root string, items []event.AssetItem, now int64, sessionID string) (Stats, error) {
	logger := contextutil.LoggerFromContext(ctx)
	var stats Stats

	live, err := r.catalog.LiveAssets(ctx)
	if err != nil {
		return stats, err
	}

	seen := make(map[string]struct{}, len(items))
	var upserts []event.AssetItem
	var moves []move
	var reindexScripts []event.AssetItem
	var reindexScenes []event.AssetItem

	scheduleReindex := func(item event.AssetItem) {
		if event.IsScenePath(item.Path) {
			reindexScenes = append(reindexScenes, item)
		} else if event.IsTextual(item.Kind, item.Path) {
			reindexScripts = append(reindexScripts, item)
		}
	}

	for _, item := range items {
		if item.IsFolder || item.GUID == "" || item.Path == "" {
			continue
		}
		guid := event.NormalizeGUID(item.GUID)
		path := event.NormalizeRelPath(item.Path)
		seen[guid] = struct{}{}

		row, known := live[guid]
		switch {
		case !known:
			stats.Added++
			upserts = append(upserts, item)
			scheduleReindex(item)

		case row.Path != path:
			stats.Moved++
			upserts = append(upserts, item)
			moves = append(moves, move{guid: guid, from: row.Path, to: path})
			scheduleReindex(item)

		case isModified(item, row):
			stats.Modified++
			upserts = append(upserts, item)
			// Stale points for the current path go now; the reindex
			// pipeline rewrites them.
			if err := r.vectors.DeleteByPath(ctx, path); err != nil {
				return stats, err
			}
			scheduleReindex(item)
		}
	}

	// Deleted: every live row the manifest no longer names.
	var deletedGUIDs []string
	var deletedPaths []string
	for guid, row := range live {
		if _, ok := seen[guid]; !ok {
			deletedGUIDs = append(deletedGUIDs, guid)
			deletedPaths = append(deletedPaths, row.Path)
		}
	}
	if len(deletedGUIDs) > 0 {
		stats.Deleted = len(deletedGUIDs)
		if err := r.catalog.MarkDeleted(ctx, deletedGUIDs, now); err != nil {
			return stats, err
		}
		for _, path := range deletedPaths {
			if err := r.vectors.DeleteByPath(ctx, path); err != nil {
				return stats, err
			}
		}
	}

	if len(upserts) > 0 {
		if err := r.catalog.UpsertAssets(ctx, upserts, now); err != nil {
			return stats, err
		}
		for _, item := range upserts {
			if event.IsScenePath(item.Path) {
				if err := r.catalog.UpsertScene(ctx, item.GUID, item.Path, now); err != nil {
					return stats, err
				}
			}
		}
	}

	// Hand re-index work to the sole code path that knows how to read,
	// chunk, embed and guard.
	for _, item := range reindexScripts {
		env := syntheticEnvelope(event.TypeAssetsImported, now, sessionID,
			event.ItemsBody{Items: []event.AssetItem{item}})
		if err := r.indexer.Handle(ctx, env, root); err != nil {
			logger.ErrorContext(ctx, "reindex failed", "path", item.Path, "error", err)
		}
	}
	for _, item := range reindexScenes {
		env := syntheticEnvelope(event.TypeSceneSaved, now, sessionID,
			event.SceneSavedBody{GUID: item.GUID, Path: item.Path})
		if err := r.indexer.Handle(ctx, env, root); err != nil {
			logger.ErrorContext(ctx, "scene reindex failed", "path", item.Path, "error", err)
		}
	}

	// Every move also drops whatever still lives under the old path.
	for _, m := range moves {
		if err := r.vectors.DeleteByPath(ctx, m.from); err != nil {
			return stats, err
		}
	}

	logger.InfoContext(ctx, "reconcile complete",
		"added", stats.Added, "deleted", stats.Deleted,
		"moved", stats.Moved, "modified", stats.Modified)
	return stats, nil
}

// isModified applies the change-witness heuristic: hashes decide when both
// sides have them, a newly appearing hash counts as modified, and mtimes
// decide only when neither side ever had a hash.
func isModified(item event.AssetItem, row catalog.Asset) bool {
	switch {
	case item.Hash != "" && row.Hash != "":
		return item.Hash != row.Hash
	case item.Hash != "" && row.Hash == "":
		return true
	case item.Hash == "" && row.Hash == "":
		if item.Mtime != nil && row.Mtime != nil {
			return *item.Mtime != *row.Mtime
		}
		return false
	default:
		return false
	}
}

func syntheticEnvelope(typ string, ts int64, sessionID string, body any) event.Envelope {
	raw, _ := json.Marshal(body)
	return event.Envelope{V: 1, Source: event.SourceUnity, Type: typ, TS: ts,
		ID: fmt.Sprintf("reconcile-%s-%d", typ, ts), Session: sessionID, Body: raw}
}

func (r *Reconciler) publish(st progress.Status) {
	if r.bus != nil {
		r.bus.Publish(st)
	}
}
