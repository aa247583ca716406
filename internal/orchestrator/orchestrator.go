// Package orchestrator brings the core up exactly once and wires the
// session resolver, indexer, reconciler and maintenance coordinator together.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"

	"movesia/internal/catalog"
	"movesia/internal/config"
	"movesia/internal/contextutil"
	"movesia/internal/embedder"
	"movesia/internal/event"
	"movesia/internal/indexer"
	"movesia/internal/maintenance"
	"movesia/internal/progress"
	"movesia/internal/reconciler"
	"movesia/internal/session"
	"movesia/internal/vectorstore"
)

// readinessTimeout bounds the boot-time vector backend probe.
const readinessTimeout = 15 * time.Second

// Runtime is the booted core handed out to host surfaces.
type Runtime struct {
	Catalog     *catalog.Store
	Vectors     vectorstore.VectorIndex
	Embedder    *embedder.Client
	Bus         *progress.Bus
	Indexer     *indexer.Indexer
	Reconciler  *reconciler.Reconciler
	Resolver    *session.Resolver
	Coordinator *maintenance.Coordinator

	// VectorsReady is false when the boot probe timed out; events still
	// update the catalog and vector writes fail per event.
	VectorsReady bool

	HeartbeatFence *session.Fence

	dbFence *catalog.Fence
	lock    *flock.Flock
}

// Host memoizes one boot across all callers.
type Host struct {
	cfg *config.Config

	flight  singleflight.Group
	mu      sync.Mutex
	runtime *Runtime
}

// NewHost creates a host that will boot lazily on first StartOnce.
func NewHost(cfg *config.Config) *Host {
	return &Host{cfg: cfg}
}

// StartOnce boots the core, sharing one bring-up across concurrent callers
// and returning the memoized runtime afterwards.
func (h *Host) StartOnce(ctx context.Context) (*Runtime, error) {
	h.mu.Lock()
	if h.runtime != nil {
		rt := h.runtime
		h.mu.Unlock()
		return rt, nil
	}
	h.mu.Unlock()

	v, err, _ := h.flight.Do("boot", func() (any, error) {
		rt, err := h.boot(ctx)
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		h.runtime = rt
		h.mu.Unlock()
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Runtime), nil
}

func (h *Host) boot(ctx context.Context) (*Runtime, error) {
	logger := contextutil.LoggerFromContext(ctx)

	cat, err := catalog.Open(h.cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// One host per catalog: a second process fails fast instead of
	// interleaving writers.
	lock := flock.New(h.cfg.DBPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("acquire host lock: %w", err)
	}
	if !locked {
		_ = cat.Close()
		return nil, fmt.Errorf("catalog %s is held by another movesia host", h.cfg.DBPath)
	}

	vectors, err := vectorstore.NewQdrantIndex(h.cfg.QdrantURL, h.cfg.QdrantCollection)
	if err != nil {
		_ = lock.Unlock()
		_ = cat.Close()
		return nil, err
	}

	emb := embedder.NewClient(h.cfg.EmbeddingBaseURL, h.cfg.EmbeddingAPIKey,
		h.cfg.EmbeddingModel, h.cfg.EmbeddingDim)

	rt := &Runtime{
		Catalog:        cat,
		Vectors:        vectors,
		Embedder:       emb,
		Bus:            progress.NewBus(),
		HeartbeatFence: &session.Fence{},
		dbFence:        &catalog.Fence{},
		lock:           lock,
	}

	// A dead backend degrades vector writes but never blocks boot; the
	// catalog keeps absorbing events.
	if err := vectors.WaitReady(ctx, readinessTimeout); err != nil {
		logger.WarnContext(ctx, "vector backend not ready, continuing without vectors", "error", err)
	} else if err := vectors.EnsureCollection(ctx, emb.Dim()); err != nil {
		logger.WarnContext(ctx, "ensure collection failed, continuing without vectors", "error", err)
	} else {
		rt.VectorsReady = true
	}

	rt.Indexer = indexer.New(cat, vectors, emb, rt.Bus, rt.HeartbeatFence)
	rt.Reconciler = reconciler.New(cat, vectors, rt.Indexer, rt.Bus)

	rt.Coordinator = maintenance.New(cat, vectors, emb.Dim())
	rt.Coordinator.Register(rt.Indexer)
	rt.Coordinator.Register(rt.dbFence)

	rt.Resolver = session.NewResolver(rt.dispatch)
	rt.Resolver.ExtraRoots = h.cfg.ExtraProjectRoots
	rt.Resolver.RecentProjectsPath = h.cfg.RecentProjectsPath
	rt.Resolver.OnResolved = rt.verifyProject

	logger.InfoContext(ctx, "core booted",
		"catalog", h.cfg.DBPath, "collection", h.cfg.QdrantCollection,
		"vectors_ready", rt.VectorsReady)
	return rt, nil
}

// dispatch routes one resolved event behind the catalog write fence.
// Manifest traffic feeds the reconciler; everything else is the indexer's.
func (rt *Runtime) dispatch(ctx context.Context, env event.Envelope, root string) error {
	rt.dbFence.Enter()
	defer rt.dbFence.Exit()

	switch env.Type {
	case event.TypeManifestBegin, event.TypeManifestBatch, event.TypeManifestEnd:
		return rt.Reconciler.HandleManifestEvent(ctx, env, root)
	default:
		done := rt.Indexer.Submit(ctx, env, root)
		select {
		case err := <-done:
			// Submit applies synchronously while running, so the
			// common path returns the real result.
			return err
		default:
			// Queued behind a pause. Surface the eventual failure on
			// the bus instead of blocking the dispatcher.
			go func() {
				if err := <-done; err != nil {
					rt.Bus.Publish(progress.Status{
						Phase:   progress.PhaseError,
						Message: fmt.Sprintf("%s failed after resume", env.Type),
						Err:     err.Error(),
					})
				}
			}()
			return nil
		}
	}
}

// verifyProject is the snapshot fast path on project connect: when the
// current snapshot matches the stored index state, reindexing is skipped
// outright.
func (rt *Runtime) verifyProject(ctx context.Context, sessionID, root string) {
	logger := contextutil.LoggerFromContext(ctx)
	projectID := catalog.ProjectID(root)

	sha, total, err := rt.Catalog.Snapshot(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "snapshot failed during verification", "error", err)
		return
	}

	prior, err := rt.Catalog.ReadIndexState(ctx, projectID)
	if err == nil && prior.SnapshotSHA == sha && prior.TotalItems == total && sha != "" {
		var points *uint64
		if prior.QdrantCount != nil {
			v := uint64(*prior.QdrantCount)
			points = &v
		}
		rt.Bus.Publish(progress.Status{
			Phase:        progress.PhaseComplete,
			Total:        total,
			Done:         total,
			QdrantPoints: points,
			Message:      "Fully indexed (verified)",
		})
		logger.InfoContext(ctx, "project verified against snapshot",
			"session", sessionID, "project_id", projectID, "total", total)
		return
	}

	rt.Bus.Publish(progress.Status{
		Phase:   progress.PhaseScanning,
		Message: "Checking for changes…",
	})
}

// Dispatch exposes the resolver entry point to host surfaces.
func (rt *Runtime) Dispatch(ctx context.Context, env event.Envelope) error {
	return rt.Resolver.Dispatch(ctx, env)
}

// Close releases the runtime's resources.
func (rt *Runtime) Close() error {
	rt.Bus.Close()
	if rt.lock != nil {
		_ = rt.lock.Unlock()
	}
	return rt.Catalog.Close()
}
