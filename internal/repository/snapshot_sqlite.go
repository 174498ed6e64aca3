package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"

	_ "modernc.org/sqlite"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS heatmap_snapshots (
	view TEXT NOT NULL,
	date TEXT NOT NULL,
	payload TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (view, date)
);
`

// SQLiteSnapshotStore persists one heatmap snapshot per (view, day)
// in a local SQLite file.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore opens (or creates) the snapshot database.
func NewSQLiteSnapshotStore(path string) (*SQLiteSnapshotStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping snapshot db: %w", err)
	}

	// SQLite allows one writer; the engine is the only writer here
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}

	return &SQLiteSnapshotStore{db: db}, nil
}

var _ drepo.SnapshotStore = (*SQLiteSnapshotStore)(nil)

// Save upserts the snapshot for its day, replacing any prior record.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, view string, snap *models.DailySnapshot) error {
	if snap == nil || snap.Date == "" {
		return fmt.Errorf("snapshot requires a date")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	const q = `
INSERT INTO heatmap_snapshots (view, date, payload, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (view, date) DO UPDATE SET
	payload = excluded.payload,
	updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, view, snap.Date, string(payload), time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("save snapshot %s/%s: %w", view, snap.Date, err)
	}
	return nil
}

// Load returns the snapshot for the given day, or (nil, nil) when the
// day has never been saved.
func (s *SQLiteSnapshotStore) Load(ctx context.Context, view, date string) (*models.DailySnapshot, error) {
	const q = `SELECT payload FROM heatmap_snapshots WHERE view = ? AND date = ?`

	var payload string
	err := s.db.QueryRowContext(ctx, q, view, date).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s/%s: %w", view, date, err)
	}

	var snap models.DailySnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s/%s: %w", view, date, err)
	}
	return &snap, nil
}

// Dates lists saved days for a view, oldest first.
func (s *SQLiteSnapshotStore) Dates(ctx context.Context, view string) ([]string, error) {
	const q = `SELECT date FROM heatmap_snapshots WHERE view = ? ORDER BY date ASC`

	rows, err := s.db.QueryContext(ctx, q, view)
	if err != nil {
		return nil, fmt.Errorf("list snapshot dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}
