package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/mock/gomock"

	"movesia/internal/catalog"
	"movesia/internal/event"
	"movesia/internal/vectorstore/mocks"
)

type trackingWriter struct {
	name string
	log  *[]string
	mu   *sync.Mutex
}

func (w *trackingWriter) Pause(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.log = append(*w.log, "pause:"+w.name)
	return nil
}

func (w *trackingWriter) Resume(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.log = append(*w.log, "resume:"+w.name)
	return nil
}

func testCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestWipeAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	cat := testCatalog(t)
	ctx := context.Background()

	if err := cat.UpsertAssets(ctx, []event.AssetItem{{GUID: "A", Path: "p"}}, 1); err != nil {
		t.Fatal(err)
	}

	vectors := mocks.NewMockVectorIndex(ctrl)
	gomock.InOrder(
		vectors.EXPECT().DropCollection(gomock.Any()).Return(nil),
		vectors.EXPECT().EnsureCollection(gomock.Any(), 384).Return(nil),
	)

	var log []string
	var mu sync.Mutex
	c := New(cat, vectors, 384)
	c.Register(&trackingWriter{name: "indexer", log: &log, mu: &mu})
	c.Register(&trackingWriter{name: "fence", log: &log, mu: &mu})

	res := c.WipeAll(ctx)
	if !res.Success {
		t.Fatalf("WipeAll() failed: %s", res.Message)
	}
	if !strings.Contains(res.Message, "assets=1") {
		t.Errorf("message should carry per-table counts, got %q", res.Message)
	}

	if _, err := cat.GetAsset(ctx, "A"); err != catalog.ErrNotFound {
		t.Errorf("catalog not wiped: err = %v", err)
	}

	want := []string{"pause:indexer", "pause:fence", "resume:fence", "resume:indexer"}
	if len(log) != len(want) {
		t.Fatalf("writer log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("writer log[%d] = %s, want %s (reverse resume order)", i, log[i], want[i])
		}
	}
}

func TestWipeAll_VectorBackendDownStillWipesCatalog(t *testing.T) {
	ctrl := gomock.NewController(t)
	cat := testCatalog(t)
	ctx := context.Background()

	if err := cat.UpsertAssets(ctx, []event.AssetItem{{GUID: "A", Path: "p"}}, 1); err != nil {
		t.Fatal(err)
	}

	vectors := mocks.NewMockVectorIndex(ctrl)
	vectors.EXPECT().DropCollection(gomock.Any()).Return(errors.New("connection refused"))

	c := New(cat, vectors, 384)
	res := c.WipeAll(ctx)
	if !res.Success {
		t.Fatalf("WipeAll() must succeed when only the vector backend is down: %s", res.Message)
	}
	if _, err := cat.GetAsset(ctx, "A"); err != catalog.ErrNotFound {
		t.Errorf("catalog not wiped: err = %v", err)
	}
}

func TestWipeAll_ResumesAfterCatalogFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	cat := testCatalog(t)
	_ = cat.Close() // force the catalog step to fail

	vectors := mocks.NewMockVectorIndex(ctrl)
	vectors.EXPECT().DropCollection(gomock.Any()).Return(nil)
	vectors.EXPECT().EnsureCollection(gomock.Any(), 384).Return(nil)

	var log []string
	var mu sync.Mutex
	c := New(cat, vectors, 384)
	c.Register(&trackingWriter{name: "indexer", log: &log, mu: &mu})

	res := c.WipeAll(context.Background())
	if res.Success {
		t.Fatal("WipeAll() should fail on a closed catalog")
	}

	found := false
	for _, entry := range log {
		if entry == "resume:indexer" {
			found = true
		}
	}
	if !found {
		t.Error("writers must be resumed even when the wipe fails")
	}
}
