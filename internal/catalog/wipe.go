package catalog

import (
	"context"
	"fmt"
)

// WipeAll deletes every row of every user table inside one transaction,
// resets autoincrement counters, then truncates the WAL and vacuums. The
// transaction is SQLite's default deferred kind, not BEGIN EXCLUSIVE.
// Returns per-table row counts observed before zeroing.
func (s *Store) WipeAll(ctx context.Context) (map[string]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin wipe tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	_ = rows.Close()

	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n

		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return nil, fmt.Errorf("truncate %s: %w", table, err)
		}
	}

	// Reset AUTOINCREMENT counters; sqlite_sequence only exists once an
	// autoincrement table has been written.
	var hasSeq int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'`,
	).Scan(&hasSeq); err != nil {
		return nil, fmt.Errorf("probe sqlite_sequence: %w", err)
	}
	if hasSeq > 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence"); err != nil {
			return nil, fmt.Errorf("reset sequences: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit wipe tx: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return nil, fmt.Errorf("checkpoint wal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return nil, fmt.Errorf("vacuum: %w", err)
	}

	return counts, nil
}
