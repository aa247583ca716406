package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"movesia/internal/event"
)

// maxDepsPerAsset caps how many dependency rows a single upsert records.
const maxDepsPerAsset = 200

// Asset is one catalog row.
type Asset struct {
	GUID      string
	Path      string
	Kind      string
	Mtime     *int64
	Size      *int64
	Hash      string
	Deleted   bool
	UpdatedTS int64
}

// Version is the change witness used by the snapshot hash: the content hash
// when present, otherwise "<mtime>:<size>".
func (a Asset) Version() string {
	if a.Hash != "" {
		return a.Hash
	}
	var mtime, size int64
	if a.Mtime != nil {
		mtime = *a.Mtime
	}
	if a.Size != nil {
		size = *a.Size
	}
	return fmt.Sprintf("%d:%d", mtime, size)
}

// IndexState is the per-project snapshot row written after every applied batch.
type IndexState struct {
	ProjectID   string
	SnapshotSHA string
	TotalItems  int
	QdrantCount *int64
	CompletedAt int64
}

// UpsertAssets applies a batch of asset rows in one transaction. Rows missing
// a guid or path are skipped. Path is always overwritten on conflict; kind,
// mtime, size and hash only when the incoming value is present. The deleted
// flag is reset. Up to 200 dependency rows per asset are recorded.
func (s *Store) UpsertAssets(ctx context.Context, items []event.AssetItem, ts int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, item := range items {
		if item.GUID == "" || item.Path == "" {
			continue
		}

		guid := event.NormalizeGUID(item.GUID)
		path := event.NormalizeRelPath(item.Path)

		_, err := tx.ExecContext(ctx,
			`INSERT INTO assets (guid, path, kind, mtime, size, hash, deleted, updated_ts)
			 VALUES (?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''), 0, ?)
			 ON CONFLICT (guid) DO UPDATE SET
			   path       = excluded.path,
			   kind       = COALESCE(excluded.kind, kind),
			   mtime      = COALESCE(excluded.mtime, mtime),
			   size       = COALESCE(excluded.size, size),
			   hash       = COALESCE(excluded.hash, hash),
			   deleted    = 0,
			   updated_ts = excluded.updated_ts`,
			guid, path, item.Kind, item.Mtime, item.Size, item.Hash, ts,
		)
		if err != nil {
			return fmt.Errorf("upsert asset %s: %w", guid, err)
		}

		deps := item.Deps
		if len(deps) > maxDepsPerAsset {
			deps = deps[:maxDepsPerAsset]
		}
		for _, dep := range deps {
			if dep == "" {
				continue
			}
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO asset_deps (guid, dep) VALUES (?, ?)`,
				guid, event.NormalizeGUID(dep),
			)
			if err != nil {
				return fmt.Errorf("insert dep for %s: %w", guid, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert tx: %w", err)
	}
	return nil
}

// MarkDeleted soft-deletes a batch of assets in one transaction.
func (s *Store) MarkDeleted(ctx context.Context, guids []string, ts int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, guid := range guids {
		if guid == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE assets SET deleted = 1, updated_ts = ? WHERE guid = ?`,
			ts, event.NormalizeGUID(guid),
		)
		if err != nil {
			return fmt.Errorf("mark deleted %s: %w", guid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

// UpsertScene records the latest path of a scene document.
func (s *Store) UpsertScene(ctx context.Context, guid, path string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scenes (guid, path, updated_ts) VALUES (?, ?, ?)
		 ON CONFLICT (guid) DO UPDATE SET path = excluded.path, updated_ts = excluded.updated_ts`,
		event.NormalizeGUID(guid), event.NormalizeRelPath(path), ts,
	)
	if err != nil {
		return fmt.Errorf("upsert scene %s: %w", guid, err)
	}
	return nil
}

// GetAsset returns one catalog row. Returns ErrNotFound when absent.
func (s *Store) GetAsset(ctx context.Context, guid string) (*Asset, error) {
	var a Asset
	var deleted int
	err := s.db.QueryRowContext(ctx,
		`SELECT guid, path, COALESCE(kind, ''), mtime, size, COALESCE(hash, ''), deleted, updated_ts
		 FROM assets WHERE guid = ?`,
		event.NormalizeGUID(guid),
	).Scan(&a.GUID, &a.Path, &a.Kind, &a.Mtime, &a.Size, &a.Hash, &deleted, &a.UpdatedTS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query asset %s: %w", guid, err)
	}
	a.Deleted = deleted != 0
	return &a, nil
}

// LiveAssets returns every non-deleted row keyed by guid.
func (s *Store) LiveAssets(ctx context.Context) (map[string]Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guid, path, COALESCE(kind, ''), mtime, size, COALESCE(hash, ''), updated_ts
		 FROM assets WHERE deleted = 0`)
	if err != nil {
		return nil, fmt.Errorf("query live assets: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	live := make(map[string]Asset)
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.GUID, &a.Path, &a.Kind, &a.Mtime, &a.Size, &a.Hash, &a.UpdatedTS); err != nil {
			return nil, fmt.Errorf("scan live asset: %w", err)
		}
		live[a.GUID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate live assets: %w", err)
	}
	return live, nil
}

// Snapshot computes the deterministic digest over (guid, version) pairs of
// all live assets ordered by guid, plus the live count. Empty catalog yields
// an empty sha and zero total.
func (s *Store) Snapshot(ctx context.Context) (sha string, total int, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guid, COALESCE(hash, ''), mtime, size
		 FROM assets WHERE deleted = 0 ORDER BY guid`)
	if err != nil {
		return "", 0, fmt.Errorf("query snapshot rows: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	h := sha256.New()
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.GUID, &a.Hash, &a.Mtime, &a.Size); err != nil {
			return "", 0, fmt.Errorf("scan snapshot row: %w", err)
		}
		fmt.Fprintf(h, "%s=%s\n", a.GUID, a.Version())
		total++
	}
	if err := rows.Err(); err != nil {
		return "", 0, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	if total == 0 {
		return "", 0, nil
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}

// WriteIndexState idempotently replaces the per-project snapshot row.
func (s *Store) WriteIndexState(ctx context.Context, st IndexState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO index_state (project_id, snapshot_sha, total_items, qdrant_count, completed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		st.ProjectID, st.SnapshotSHA, st.TotalItems, st.QdrantCount, st.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("write index state %s: %w", st.ProjectID, err)
	}
	return nil
}

// ReadIndexState returns the snapshot row for a project, or ErrNotFound.
func (s *Store) ReadIndexState(ctx context.Context, projectID string) (*IndexState, error) {
	var st IndexState
	err := s.db.QueryRowContext(ctx,
		`SELECT project_id, snapshot_sha, total_items, qdrant_count, completed_at
		 FROM index_state WHERE project_id = ?`,
		projectID,
	).Scan(&st.ProjectID, &st.SnapshotSHA, &st.TotalItems, &st.QdrantCount, &st.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read index state %s: %w", projectID, err)
	}
	return &st, nil
}

// LogEvent appends one received envelope to the audit log. Failures surface;
// the event log is never silently dropped.
func (s *Store) LogEvent(ctx context.Context, ts int64, session, typ string, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (ts, session, type, body) VALUES (?, ?, ?, ?)`,
		ts, session, typ, string(body),
	)
	if err != nil {
		return fmt.Errorf("log event %s: %w", typ, err)
	}
	return nil
}
