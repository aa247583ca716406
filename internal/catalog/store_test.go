package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"movesia/internal/event"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func i64(v int64) *int64 { return &v }

func TestUpsertAssets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := []event.AssetItem{
		{GUID: "A", Path: "Assets/S.cs", Kind: "MonoScript", Hash: "h1", Mtime: i64(100), Size: i64(42)},
		{GUID: "", Path: "Assets/skipped.cs"},
		{GUID: "B", Path: ""},
	}
	if err := s.UpsertAssets(ctx, items, 1000); err != nil {
		t.Fatalf("UpsertAssets() error = %v", err)
	}

	a, err := s.GetAsset(ctx, "A")
	if err != nil {
		t.Fatalf("GetAsset() error = %v", err)
	}
	if a.Path != "Assets/S.cs" || a.Kind != "MonoScript" || a.Hash != "h1" || a.UpdatedTS != 1000 {
		t.Errorf("unexpected row after insert: %+v", a)
	}

	if _, err := s.GetAsset(ctx, "B"); err != ErrNotFound {
		t.Errorf("pathless row should have been skipped, got err = %v", err)
	}

	// Path always wins on conflict; absent kind/hash keep prior values.
	update := []event.AssetItem{{GUID: "A", Path: "Assets/src/S.cs"}}
	if err := s.UpsertAssets(ctx, update, 2000); err != nil {
		t.Fatalf("UpsertAssets() update error = %v", err)
	}
	a, err = s.GetAsset(ctx, "A")
	if err != nil {
		t.Fatalf("GetAsset() error = %v", err)
	}
	if a.Path != "Assets/src/S.cs" {
		t.Errorf("path = %q, want overwritten path", a.Path)
	}
	if a.Kind != "MonoScript" || a.Hash != "h1" {
		t.Errorf("kind/hash should be preserved when incoming is absent: %+v", a)
	}
	if a.Mtime == nil || *a.Mtime != 100 {
		t.Errorf("mtime should be preserved: %+v", a.Mtime)
	}
	if a.UpdatedTS != 2000 {
		t.Errorf("updated_ts = %d, want 2000", a.UpdatedTS)
	}
}

func TestUpsertAssets_ResurrectsDeleted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertAssets(ctx, []event.AssetItem{{GUID: "A", Path: "p"}}, 1); err != nil {
		t.Fatalf("UpsertAssets() error = %v", err)
	}
	if err := s.MarkDeleted(ctx, []string{"A"}, 2); err != nil {
		t.Fatalf("MarkDeleted() error = %v", err)
	}
	a, _ := s.GetAsset(ctx, "A")
	if !a.Deleted {
		t.Fatal("asset should be soft-deleted")
	}

	if err := s.UpsertAssets(ctx, []event.AssetItem{{GUID: "A", Path: "p2"}}, 3); err != nil {
		t.Fatalf("UpsertAssets() error = %v", err)
	}
	a, _ = s.GetAsset(ctx, "A")
	if a.Deleted {
		t.Error("re-import must reset the deleted flag")
	}
}

func TestUpsertAssets_DepsCapped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	deps := make([]string, 250)
	for i := range deps {
		deps[i] = event.NormalizeGUID(string(rune('a'+i%26)) + string(rune('0'+i/26)))
	}
	item := event.AssetItem{GUID: "A", Path: "p", Deps: deps}
	if err := s.UpsertAssets(ctx, []event.AssetItem{item}, 1); err != nil {
		t.Fatalf("UpsertAssets() error = %v", err)
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM asset_deps WHERE guid = 'a'").Scan(&n); err != nil {
		t.Fatalf("count deps: %v", err)
	}
	if n > 200 {
		t.Errorf("dep rows = %d, want at most 200", n)
	}
}

func TestSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sha, total, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if sha != "" || total != 0 {
		t.Errorf("empty catalog snapshot = (%q, %d), want empty", sha, total)
	}

	items := []event.AssetItem{
		{GUID: "A", Path: "a.cs", Hash: "h1"},
		{GUID: "B", Path: "b.cs", Mtime: i64(10), Size: i64(20)},
	}
	if err := s.UpsertAssets(ctx, items, 1); err != nil {
		t.Fatalf("UpsertAssets() error = %v", err)
	}

	sha1, total1, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if total1 != 2 || sha1 == "" {
		t.Fatalf("Snapshot() = (%q, %d), want 2 live rows", sha1, total1)
	}

	// Insertion order must not matter.
	s2 := openTestStore(t)
	if err := s2.UpsertAssets(ctx, []event.AssetItem{items[1], items[0]}, 99); err != nil {
		t.Fatalf("UpsertAssets() error = %v", err)
	}
	sha2, _, err := s2.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if sha1 != sha2 {
		t.Errorf("snapshot depends on insertion order: %s vs %s", sha1, sha2)
	}

	// Content change flips the hash; delete excludes the guid.
	if err := s.UpsertAssets(ctx, []event.AssetItem{{GUID: "A", Path: "a.cs", Hash: "h2"}}, 2); err != nil {
		t.Fatalf("UpsertAssets() error = %v", err)
	}
	sha3, _, _ := s.Snapshot(ctx)
	if sha3 == sha1 {
		t.Error("hash change did not change the snapshot")
	}

	if err := s.MarkDeleted(ctx, []string{"A"}, 3); err != nil {
		t.Fatalf("MarkDeleted() error = %v", err)
	}
	_, total4, _ := s.Snapshot(ctx)
	if total4 != 1 {
		t.Errorf("deleted asset still counted: total = %d", total4)
	}
}

func TestIndexStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.ReadIndexState(ctx, "deadbeef"); err != ErrNotFound {
		t.Errorf("ReadIndexState() on empty table = %v, want ErrNotFound", err)
	}

	count := int64(7)
	st := IndexState{ProjectID: "deadbeef", SnapshotSHA: "sha", TotalItems: 3, QdrantCount: &count, CompletedAt: 123}
	if err := s.WriteIndexState(ctx, st); err != nil {
		t.Fatalf("WriteIndexState() error = %v", err)
	}

	got, err := s.ReadIndexState(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("ReadIndexState() error = %v", err)
	}
	if got.SnapshotSHA != "sha" || got.TotalItems != 3 || got.QdrantCount == nil || *got.QdrantCount != 7 {
		t.Errorf("unexpected state: %+v", got)
	}

	// Replace is idempotent.
	st.SnapshotSHA = "sha2"
	if err := s.WriteIndexState(ctx, st); err != nil {
		t.Fatalf("WriteIndexState() replace error = %v", err)
	}
	got, _ = s.ReadIndexState(ctx, "deadbeef")
	if got.SnapshotSHA != "sha2" {
		t.Errorf("replace did not overwrite: %+v", got)
	}
}

func TestLogEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.LogEvent(ctx, 100, "sess", "hello", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 1 {
		t.Errorf("events rows = %d, want 1", n)
	}
}

func TestWipeAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertAssets(ctx, []event.AssetItem{{GUID: "A", Path: "p"}}, 1); err != nil {
		t.Fatalf("UpsertAssets() error = %v", err)
	}
	if err := s.LogEvent(ctx, 1, "s", "hello", []byte("{}")); err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	counts, err := s.WipeAll(ctx)
	if err != nil {
		t.Fatalf("WipeAll() error = %v", err)
	}
	if counts["assets"] != 1 || counts["events"] != 1 {
		t.Errorf("pre-wipe counts = %v", counts)
	}

	if _, err := s.GetAsset(ctx, "A"); err != ErrNotFound {
		t.Errorf("asset survived wipe: err = %v", err)
	}
	sha, total, _ := s.Snapshot(ctx)
	if sha != "" || total != 0 {
		t.Errorf("snapshot after wipe = (%q, %d), want empty", sha, total)
	}
}

func TestProjectID(t *testing.T) {
	a := ProjectID(`C:\proj\Game`)
	b := ProjectID("C:/proj/Game/")
	if a != b {
		t.Errorf("normalization differs: %s vs %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("ProjectID length = %d, want 16", len(a))
	}
	if a == ProjectID("/other/root") {
		t.Error("distinct roots collided")
	}
}
