package repository

import (
	"context"
	"path/filepath"
	"testing"

	"MarketLens/internal/domain/models"
)

func newTestStore(t *testing.T) *SQLiteSnapshotStore {
	t.Helper()
	store, err := NewSQLiteSnapshotStore(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snap(date string, delta float64) *models.DailySnapshot {
	return &models.DailySnapshot{
		Date: date,
		Levels: []models.PriceLevel{
			{Price: 67_000, Delta: delta, Buys: delta},
		},
		Range: models.PriceRange{Min: 66_900, Max: 67_100},
	}
}

func TestSQLiteSnapshotStore_SaveLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "taker", snap("2026-08-29", 42)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "taker", "2026-08-29")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil for saved snapshot")
	}
	if got.Date != "2026-08-29" || len(got.Levels) != 1 || got.Levels[0].Delta != 42 {
		t.Errorf("loaded snapshot = %+v", got)
	}
	if got.Range.Min != 66_900 || got.Range.Max != 67_100 {
		t.Errorf("loaded range = %+v", got.Range)
	}
}

func TestSQLiteSnapshotStore_SaveReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "taker", snap("2026-08-29", 10)); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	if err := store.Save(ctx, "taker", snap("2026-08-29", 99)); err != nil {
		t.Fatalf("second Save: %v", err)
	}

	got, err := store.Load(ctx, "taker", "2026-08-29")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Levels[0].Delta != 99 {
		t.Errorf("delta = %v, want latest save 99", got.Levels[0].Delta)
	}

	dates, err := store.Dates(ctx, "taker")
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	if len(dates) != 1 {
		t.Errorf("dates = %v, want single entry per day", dates)
	}
}

func TestSQLiteSnapshotStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Load(context.Background(), "taker", "1999-01-01")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("missing day returned %+v, want nil", got)
	}
}

func TestSQLiteSnapshotStore_ViewsIsolated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "taker", snap("2026-08-29", 1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, "liquidations", snap("2026-08-28", 2)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Load(ctx, "liquidations", "2026-08-29")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("views must be isolated, got %+v", got)
	}

	dates, err := store.Dates(ctx, "liquidations")
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2026-08-28" {
		t.Errorf("dates = %v", dates)
	}
}

func TestSQLiteSnapshotStore_DatesSorted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, d := range []string{"2026-08-29", "2026-08-27", "2026-08-28"} {
		if err := store.Save(ctx, "taker", snap(d, 1)); err != nil {
			t.Fatalf("Save %s: %v", d, err)
		}
	}

	dates, err := store.Dates(ctx, "taker")
	if err != nil {
		t.Fatalf("Dates: %v", err)
	}
	want := []string{"2026-08-27", "2026-08-28", "2026-08-29"}
	if len(dates) != len(want) {
		t.Fatalf("dates = %v", dates)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Errorf("dates[%d] = %s, want %s", i, dates[i], want[i])
		}
	}
}

func TestSQLiteSnapshotStore_RejectsEmptyDate(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(context.Background(), "taker", &models.DailySnapshot{}); err == nil {
		t.Error("expected error for snapshot without date")
	}
}
