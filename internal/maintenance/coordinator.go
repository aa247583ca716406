// Package maintenance fences writers for destructive operations: the
// wipe-all protocol drops the vector collection, truncates the catalog and
// compacts it, with every registered writer paused across the window.
package maintenance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"movesia/internal/catalog"
	"movesia/internal/contextutil"
	"movesia/internal/vectorstore"
)

// settleFence is the minimum wait after pausing writers before any
// destructive step runs.
const settleFence = 200 * time.Millisecond

// Pausable is the capability every registered writer exposes.
type Pausable interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Result reports the outcome of a wipe.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Coordinator owns the registered-writers list and the wipe protocol.
type Coordinator struct {
	catalog *catalog.Store
	vectors vectorstore.VectorIndex
	dim     int

	mu      sync.Mutex
	writers []Pausable
}

// New constructs a Coordinator. dim is the collection dimension used when
// recreating the vector collection after a drop.
func New(cat *catalog.Store, vectors vectorstore.VectorIndex, dim int) *Coordinator {
	return &Coordinator{catalog: cat, vectors: vectors, dim: dim}
}

// Register adds a writer. Writers are paused in registration order and
// resumed in reverse.
func (c *Coordinator) Register(w Pausable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writers = append(c.writers, w)
}

// WipeAll quiesces all writers, drops and recreates the vector collection,
// truncates every catalog table and compacts the file. Writers are resumed
// even when a step fails.
func (c *Coordinator) WipeAll(ctx context.Context) Result {
	logger := contextutil.LoggerFromContext(ctx)

	c.mu.Lock()
	writers := make([]Pausable, len(c.writers))
	copy(writers, c.writers)
	c.mu.Unlock()

	var paused []Pausable
	defer func() {
		for i := len(paused) - 1; i >= 0; i-- {
			if err := paused[i].Resume(ctx); err != nil {
				logger.ErrorContext(ctx, "resume writer failed", "error", err)
			}
		}
	}()

	for _, w := range writers {
		if err := w.Pause(ctx); err != nil {
			return Result{Success: false, Message: fmt.Sprintf("pause writer: %v", err)}
		}
		paused = append(paused, w)
	}

	select {
	case <-time.After(settleFence):
	case <-ctx.Done():
		return Result{Success: false, Message: ctx.Err().Error()}
	}

	// The vector backend being down must not block the catalog wipe.
	if err := c.vectors.DropCollection(ctx); err != nil {
		logger.WarnContext(ctx, "drop collection failed, continuing with catalog wipe", "error", err)
	} else if err := c.vectors.EnsureCollection(ctx, c.dim); err != nil {
		logger.WarnContext(ctx, "recreate collection failed, continuing with catalog wipe", "error", err)
	}

	counts, err := c.catalog.WipeAll(ctx)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("catalog wipe: %v", err)}
	}

	return Result{Success: true, Message: formatCounts(counts)}
}

// formatCounts renders per-table row counts observed before zeroing, in a
// stable order.
func formatCounts(counts map[string]int64) string {
	tables := make([]string, 0, len(counts))
	for table := range counts {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	parts := make([]string, 0, len(tables))
	for _, table := range tables {
		parts = append(parts, fmt.Sprintf("%s=%d", table, counts[table]))
	}
	return "wiped rows: " + strings.Join(parts, ", ")
}
