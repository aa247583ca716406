// Package indexer is the event-driven writer: it applies change events to
// the catalog and re-embeds changed textual assets into the vector store.
package indexer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"movesia/internal/catalog"
	"movesia/internal/contextutil"
	"movesia/internal/event"
	"movesia/internal/progress"
	"movesia/internal/session"
	"movesia/internal/vectorstore"
)

const (
	// pauseSettleDelay lets in-flight work complete after Pause sets the flag.
	pauseSettleDelay = 100 * time.Millisecond

	// compileSuspend / compileFinishExtend fence heartbeat-liveness
	// termination across a domain reload.
	compileSuspend      = 120 * time.Second
	compileFinishExtend = 30 * time.Second
)

// Embedder is the stateless batch embedding contract the pipeline needs.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// pending is one event queued while the indexer is paused.
type pending struct {
	env  event.Envelope
	root string
	done chan error
}

// Indexer applies events one at a time, in arrival order.
type Indexer struct {
	catalog  *catalog.Store
	vectors  vectorstore.VectorIndex
	embedder Embedder
	bus      *progress.Bus
	fence    *session.Fence

	// runMu serializes event application: one event to completion at a time.
	runMu sync.Mutex

	mu     sync.Mutex
	paused bool
	queue  []pending
}

// New constructs an Indexer. fence may be nil when no heartbeat liveness is
// in play (tests, one-shot CLI runs).
func New(cat *catalog.Store, vectors vectorstore.VectorIndex, emb Embedder, bus *progress.Bus, fence *session.Fence) *Indexer {
	return &Indexer{
		catalog:  cat,
		vectors:  vectors,
		embedder: emb,
		bus:      bus,
		fence:    fence,
	}
}

// Submit hands one event to the indexer. When running, the event is applied
// before the returned channel yields; when paused, the event queues in
// submission order and completes after Resume. The channel always receives
// exactly one result.
func (ix *Indexer) Submit(ctx context.Context, env event.Envelope, root string) <-chan error {
	done := make(chan error, 1)

	ix.mu.Lock()
	if ix.paused {
		ix.queue = append(ix.queue, pending{env: env, root: root, done: done})
		ix.mu.Unlock()
		return done
	}
	ix.mu.Unlock()

	done <- ix.handle(ctx, env, root)
	return done
}

// Handle applies one event synchronously. Used by callers that need the
// result inline (the reconciler's synthetic events).
func (ix *Indexer) Handle(ctx context.Context, env event.Envelope, root string) error {
	return <-ix.Submit(ctx, env, root)
}

// Pause stops new work from starting. Events submitted while paused queue in
// order; a settling delay lets in-flight work complete. Never holds a store
// transaction.
func (ix *Indexer) Pause(ctx context.Context) error {
	ix.mu.Lock()
	ix.paused = true
	ix.mu.Unlock()

	select {
	case <-time.After(pauseSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Resume drains the queue in arrival order. A failing event rejects its own
// future without halting the drain.
func (ix *Indexer) Resume(ctx context.Context) error {
	ix.mu.Lock()
	queued := ix.queue
	ix.queue = nil
	ix.paused = false
	ix.mu.Unlock()

	for _, p := range queued {
		p.done <- ix.handle(ctx, p.env, p.root)
	}
	return nil
}

// IsPaused is a racy observer of the pause flag.
func (ix *Indexer) IsPaused() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.paused
}

// handle logs the event and applies its effect per type.
func (ix *Indexer) handle(ctx context.Context, env event.Envelope, root string) error {
	ix.runMu.Lock()
	defer ix.runMu.Unlock()

	logger := contextutil.LoggerFromContext(ctx)

	switch env.Type {
	case event.TypeHeartbeat, event.TypeAck, event.TypeHello:
		// Handled upstream; not part of the domain audit trail.
		return nil
	}

	body := env.Body
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := ix.catalog.LogEvent(ctx, env.TS, env.Session, env.Type, body); err != nil {
		return err
	}

	var err error
	switch env.Type {
	case event.TypeAssetsImported:
		err = ix.applyImported(ctx, env, root)
	case event.TypeAssetsMoved:
		err = ix.applyMoved(ctx, env, root)
	case event.TypeAssetsDeleted:
		err = ix.applyDeleted(ctx, env, root)
	case event.TypeSceneSaved:
		err = ix.applySceneSaved(ctx, env, root)
	case event.TypeCompileStarted:
		if ix.fence != nil {
			ix.fence.Suspend(compileSuspend)
		}
	case event.TypeCompileFinished:
		if ix.fence != nil {
			ix.fence.Suspend(compileFinishExtend)
		}
	default:
		logger.DebugContext(ctx, "event logged only", "type", env.Type)
	}

	if err != nil {
		ix.publish(progress.Status{
			Phase:   progress.PhaseError,
			Message: fmt.Sprintf("%s failed", env.Type),
			Err:     err.Error(),
		})
	}
	return err
}

func (ix *Indexer) applyImported(ctx context.Context, env event.Envelope, root string) error {
	var body event.ItemsBody
	if err := env.DecodeBody(&body); err != nil {
		return err
	}

	items := dropFolders(body.Items)
	if err := ix.catalog.UpsertAssets(ctx, items, env.TS); err != nil {
		return err
	}
	for _, item := range items {
		if event.IsScenePath(item.Path) {
			if err := ix.catalog.UpsertScene(ctx, item.GUID, item.Path, env.TS); err != nil {
				return err
			}
		}
	}

	if err := ix.reindexTextual(ctx, env, root, items); err != nil {
		return err
	}
	return ix.writeSnapshot(ctx, root, env.TS)
}

func (ix *Indexer) applyMoved(ctx context.Context, env event.Envelope, root string) error {
	var body event.ItemsBody
	if err := env.DecodeBody(&body); err != nil {
		return err
	}

	items := dropFolders(body.Items)
	if err := ix.catalog.UpsertAssets(ctx, items, env.TS); err != nil {
		return err
	}
	for _, item := range items {
		if event.IsScenePath(item.Path) {
			if err := ix.catalog.UpsertScene(ctx, item.GUID, item.Path, env.TS); err != nil {
				return err
			}
		}
	}

	// Old points go first so nothing survives under the prior path.
	for _, item := range items {
		if item.From == "" {
			continue
		}
		if err := ix.vectors.DeleteByPath(ctx, item.From); err != nil {
			return err
		}
	}

	if err := ix.reindexTextual(ctx, env, root, items); err != nil {
		return err
	}
	return ix.writeSnapshot(ctx, root, env.TS)
}

func (ix *Indexer) applyDeleted(ctx context.Context, env event.Envelope, root string) error {
	var body event.ItemsBody
	if err := env.DecodeBody(&body); err != nil {
		return err
	}

	items := dropFolders(body.Items)
	guids := make([]string, 0, len(items))
	for _, item := range items {
		if item.GUID != "" {
			guids = append(guids, item.GUID)
		}
	}
	if err := ix.catalog.MarkDeleted(ctx, guids, env.TS); err != nil {
		return err
	}

	for _, item := range items {
		if item.Path != "" {
			if err := ix.vectors.DeleteByPath(ctx, item.Path); err != nil {
				return err
			}
		}
		// Backup sweep in case points were written under a path the
		// catalog never saw.
		if item.GUID != "" {
			if err := ix.vectors.DeleteByGUID(ctx, item.GUID); err != nil {
				return err
			}
		}
	}

	ix.publish(progress.Status{
		Phase:        progress.PhaseComplete,
		Message:      "Deletions applied",
		QdrantPoints: ix.pointCount(ctx),
	})
	return ix.writeSnapshot(ctx, root, env.TS)
}

func (ix *Indexer) applySceneSaved(ctx context.Context, env event.Envelope, root string) error {
	var body event.SceneSavedBody
	if err := env.DecodeBody(&body); err != nil {
		return err
	}
	if body.GUID == "" || body.Path == "" {
		return fmt.Errorf("scene_saved missing guid or path")
	}

	item := event.AssetItem{GUID: body.GUID, Path: body.Path, Kind: "Scene"}
	if err := ix.catalog.UpsertAssets(ctx, []event.AssetItem{item}, env.TS); err != nil {
		return err
	}
	if err := ix.catalog.UpsertScene(ctx, body.GUID, body.Path, env.TS); err != nil {
		return err
	}

	ix.publish(progress.Status{Phase: progress.PhaseEmbedding, Total: 1, LastFile: body.Path})
	if err := ix.indexFile(ctx, root, body.Path, body.GUID, true, env.TS, env.Session); err != nil {
		return err
	}

	ix.publish(progress.Status{
		Phase:        progress.PhaseComplete,
		Total:        1,
		Done:         1,
		LastFile:     body.Path,
		QdrantPoints: ix.pointCount(ctx),
	})
	return ix.writeSnapshot(ctx, root, env.TS)
}

// reindexTextual runs the pipeline for every textual item and emits progress.
func (ix *Indexer) reindexTextual(ctx context.Context, env event.Envelope, root string, items []event.AssetItem) error {
	var textual []event.AssetItem
	for _, item := range items {
		if event.IsTextual(item.Kind, item.Path) {
			textual = append(textual, item)
		}
	}

	total := len(textual)
	for i, item := range textual {
		ix.publish(progress.Status{
			Phase:    progress.PhaseEmbedding,
			Total:    total,
			Done:     i,
			LastFile: item.Path,
		})
		scene := event.IsScenePath(item.Path)
		if err := ix.indexFile(ctx, root, item.Path, item.GUID, scene, env.TS, env.Session); err != nil {
			return err
		}
	}

	ix.publish(progress.Status{
		Phase:        progress.PhaseComplete,
		Total:        total,
		Done:         total,
		QdrantPoints: ix.pointCount(ctx),
	})
	return nil
}

// writeSnapshot records the post-batch catalog snapshot. It is the last
// effect of every successfully applied batch.
func (ix *Indexer) writeSnapshot(ctx context.Context, root string, ts int64) error {
	sha, total, err := ix.catalog.Snapshot(ctx)
	if err != nil {
		return err
	}
	return ix.catalog.WriteIndexState(ctx, catalog.IndexState{
		ProjectID:   catalog.ProjectID(root),
		SnapshotSHA: sha,
		TotalItems:  total,
		QdrantCount: toInt64(ix.pointCount(ctx)),
		CompletedAt: ts,
	})
}

// pointCount asks the backend for its point count, best effort.
func (ix *Indexer) pointCount(ctx context.Context) *uint64 {
	n, err := ix.vectors.CountPoints(ctx)
	if err != nil {
		return nil
	}
	return &n
}

func (ix *Indexer) publish(st progress.Status) {
	if ix.bus != nil {
		ix.bus.Publish(st)
	}
}

func dropFolders(items []event.AssetItem) []event.AssetItem {
	kept := items[:0:0]
	for _, item := range items {
		if !item.IsFolder {
			kept = append(kept, item)
		}
	}
	return kept
}

func toInt64(n *uint64) *int64 {
	if n == nil {
		return nil
	}
	v := int64(*n)
	return &v
}
