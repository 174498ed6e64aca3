package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"
	"MarketLens/pkg/logger"
)

type fakeFeed struct {
	ch     chan models.Event
	status string
	closed bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{ch: make(chan models.Event, 64), status: "live"}
}

func (f *fakeFeed) Start(ctx context.Context) error { return nil }
func (f *fakeFeed) Events() <-chan models.Event     { return f.ch }
func (f *fakeFeed) Status() string                  { return f.status }
func (f *fakeFeed) Close() error                    { f.closed = true; return nil }

type fakeSnapshotStore struct {
	mu    sync.Mutex
	saves map[string]*models.DailySnapshot // view|date
	loads int
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{saves: make(map[string]*models.DailySnapshot)}
}

func (s *fakeSnapshotStore) Save(ctx context.Context, view string, snap *models.DailySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves[view+"|"+snap.Date] = snap
	return nil
}

func (s *fakeSnapshotStore) Load(ctx context.Context, view, date string) (*models.DailySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.saves[view+"|"+date], nil
}

func (s *fakeSnapshotStore) Dates(ctx context.Context, view string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.saves {
		if len(k) > len(view) && k[:len(view)] == view {
			out = append(out, k[len(view)+1:])
		}
	}
	return out, nil
}

func (s *fakeSnapshotStore) Close() error { return nil }

func (s *fakeSnapshotStore) get(view, date string) *models.DailySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[view+"|"+date]
}

type fakeSink struct {
	mu     sync.Mutex
	stored []completedCandle
}

func (s *fakeSink) Store(ctx context.Context, view models.ViewKind, tf drepo.Timeframe, c models.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, completedCandle{view: view, tf: tf, c: c})
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

type fakeMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{errors: make(map[string]int)}
}

func (m *fakeMetrics) RecordEvent(stream string) {}
func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}
func (m *fakeMetrics) RecordReconnect(stream string)                {}
func (m *fakeMetrics) RecordConnState(stream string, state float64) {}
func (m *fakeMetrics) RecordLastPrice(symbol string, price float64) {}
func (m *fakeMetrics) RecordLatency(op string, seconds float64)     {}

func newTestEngine(t *testing.T, store drepo.SnapshotStore, sink drepo.CandleSink, opts ...EngineOption) *Engine {
	t.Helper()
	lgr, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	// Frozen clock keeps arrival-time bucketing inside one bar for the
	// whole test, independent of wall-clock minute boundaries.
	base := time.Now()
	opts = append([]EngineOption{WithClock(func() time.Time { return base })}, opts...)
	return NewEngine(lgr, newFakeMetrics(), store, sink, opts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func nowMs() int64 { return time.Now().UTC().UnixMilli() }

func runEngine(t *testing.T, e *Engine, feeds map[string]drepo.Feed) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Run(ctx, feeds); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return cancel
}

func TestEngine_PriceFanOut(t *testing.T) {
	feed := newFakeFeed()
	e := newTestEngine(t, newFakeSnapshotStore(), &fakeSink{})
	cancel := runEngine(t, e, map[string]drepo.Feed{"kline": feed})
	defer cancel()

	feed.ch <- &models.KlineTick{Symbol: "BTCUSDT", Close: 67000, EventTime: nowMs()}

	waitFor(t, "price candle", func() bool {
		cs, err := e.Candles(models.ViewPrice, drepo.TF1m, 0)
		return err == nil && len(cs) == 1 && cs[0].Close == 67000
	})

	// every timeframe gets the same tick
	for _, tf := range drepo.Timeframes() {
		cs, err := e.Candles(models.ViewPrice, tf, 0)
		if err != nil {
			t.Fatalf("Candles(%s): %v", tf, err)
		}
		if len(cs) != 1 || cs[0].Close != 67000 {
			t.Errorf("timeframe %s candles = %+v", tf, cs)
		}
	}
}

func TestEngine_TradeFanOut(t *testing.T) {
	feed := newFakeFeed()
	e := newTestEngine(t, newFakeSnapshotStore(), &fakeSink{})
	cancel := runEngine(t, e, map[string]drepo.Feed{"trade": feed})
	defer cancel()

	ts := nowMs()
	// taker sell of 1 @ 67000, then taker buy of 2 @ 67000
	feed.ch <- &models.TradeTick{Symbol: "BTCUSDT", Price: 67_000, Quantity: 1.0 / 67_000, BuyerIsMaker: true, EventTime: ts}
	feed.ch <- &models.TradeTick{Symbol: "BTCUSDT", Price: 67_000, Quantity: 2.0 / 67_000, BuyerIsMaker: false, EventTime: ts + 1}

	waitFor(t, "heatmap level", func() bool {
		hm := e.TakerHeatmap()
		return len(hm.Levels) == 1 && hm.Levels[0].Buys > 1.99
	})

	hm := e.TakerHeatmap()
	lvl := hm.Levels[0]
	if lvl.Price != 67_000 {
		t.Errorf("level price = %v", lvl.Price)
	}
	if lvl.Delta < 0.99 || lvl.Delta > 1.01 {
		t.Errorf("delta = %v, want ~1", lvl.Delta)
	}
	if lvl.Sells < 0.99 || lvl.Sells > 1.01 {
		t.Errorf("sells = %v, want ~1", lvl.Sells)
	}

	dc, err := e.Candles(models.ViewDelta, drepo.TF1m, 0)
	if err != nil || len(dc) != 1 {
		t.Fatalf("delta candles = %v, %v", dc, err)
	}
	if dc[0].Open != 0 {
		t.Errorf("delta candle open = %v, want 0", dc[0].Open)
	}
	if dc[0].Close < 0.99 || dc[0].Close > 1.01 {
		t.Errorf("delta running total = %v, want ~1", dc[0].Close)
	}

	vc, err := e.Candles(models.ViewVolume, drepo.TF1m, 0)
	if err != nil || len(vc) != 1 {
		t.Fatalf("volume candles = %v, %v", vc, err)
	}
	if vc[0].Close < 2.99 || vc[0].Close > 3.01 {
		t.Errorf("volume total = %v, want ~3", vc[0].Close)
	}
}

func TestEngine_LiquidationHeatmap(t *testing.T) {
	feed := newFakeFeed()
	e := newTestEngine(t, newFakeSnapshotStore(), &fakeSink{})
	cancel := runEngine(t, e, map[string]drepo.Feed{"forceOrder": feed})
	defer cancel()

	feed.ch <- &models.LiquidationTick{
		Symbol: "BTCUSDT", Price: 66_500, Quantity: 0.1,
		Side: models.SideSell, EventTime: nowMs(),
	}

	waitFor(t, "liquidation level", func() bool {
		hm := e.LiquidationHeatmap()
		return len(hm.Levels) == 1
	})
	hm := e.LiquidationHeatmap()
	if hm.Levels[0].Sells != 6650 || hm.Levels[0].Delta != -6650 {
		t.Errorf("level = %+v", hm.Levels[0])
	}
}

func TestEngine_CompletedCandlesReachSink(t *testing.T) {
	feed := newFakeFeed()
	sink := &fakeSink{}
	e := newTestEngine(t, newFakeSnapshotStore(), sink)
	cancel := runEngine(t, e, map[string]drepo.Feed{"kline": feed})
	defer cancel()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC).UnixMilli()
	feed.ch <- &models.KlineTick{Symbol: "BTCUSDT", Close: 100, EventTime: base}
	feed.ch <- &models.KlineTick{Symbol: "BTCUSDT", Close: 101, EventTime: base + 60_000}

	// only the 1m series rolls; coarser buckets still cover both ticks
	waitFor(t, "sink delivery", func() bool { return sink.count() >= 1 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	got := sink.stored[0]
	if got.view != models.ViewPrice || got.tf != drepo.TF1m {
		t.Errorf("stored candle = %s/%s", got.view, got.tf)
	}
	if !got.c.Complete || got.c.Close != 100 {
		t.Errorf("stored candle = %+v", got.c)
	}
}

func TestEngine_MergeOncePerDay(t *testing.T) {
	store := newFakeSnapshotStore()
	day := drepo.DayKey(time.Now().UTC())
	seedLevel := models.PriceLevel{Price: 67_000, Delta: 50, Buys: 50}
	_ = store.Save(context.Background(), ViewTaker, &models.DailySnapshot{
		Date:   day,
		Levels: []models.PriceLevel{seedLevel},
		Range:  models.PriceRange{Min: 66_990, Max: 67_010},
	})

	feed := newFakeFeed()
	e := newTestEngine(t, store, &fakeSink{})
	cancel := runEngine(t, e, map[string]drepo.Feed{"trade": feed})
	defer cancel()

	e.RequestMerge()
	waitFor(t, "merge applied", func() bool {
		hm := e.TakerHeatmap()
		return len(hm.Levels) == 1 && hm.Levels[0].Buys == 50
	})

	// a second live transition must not double the persisted counts
	e.RequestMerge()
	time.Sleep(20 * time.Millisecond)
	hm := e.TakerHeatmap()
	if hm.Levels[0].Buys != 50 {
		t.Errorf("buys after second merge = %v, want 50", hm.Levels[0].Buys)
	}
}

func TestEngine_PeriodicSave(t *testing.T) {
	store := newFakeSnapshotStore()
	feed := newFakeFeed()
	e := newTestEngine(t, store, &fakeSink{}, WithSaveInterval(10*time.Millisecond))
	cancel := runEngine(t, e, map[string]drepo.Feed{"trade": feed})
	defer cancel()

	feed.ch <- &models.TradeTick{Symbol: "BTCUSDT", Price: 67_000, Quantity: 0.001, BuyerIsMaker: false, EventTime: nowMs()}

	day := e.Day()
	waitFor(t, "periodic save", func() bool {
		snap := store.get(ViewTaker, day)
		return snap != nil && len(snap.Levels) == 1
	})
}

func TestEngine_StopSavesAndClosesFeeds(t *testing.T) {
	store := newFakeSnapshotStore()
	feed := newFakeFeed()
	e := newTestEngine(t, store, &fakeSink{})
	_ = runEngine(t, e, map[string]drepo.Feed{"trade": feed})

	feed.ch <- &models.TradeTick{Symbol: "BTCUSDT", Price: 67_000, Quantity: 0.001, BuyerIsMaker: false, EventTime: nowMs()}
	waitFor(t, "trade ingested", func() bool { return len(e.TakerHeatmap().Levels) == 1 })

	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !feed.closed {
		t.Error("feed not closed")
	}
	if store.get(ViewTaker, e.Day()) == nil {
		t.Error("final snapshot not saved")
	}
}

func TestEngine_DayRollover(t *testing.T) {
	store := newFakeSnapshotStore()

	var clockMu sync.Mutex
	current := time.Date(2026, 8, 29, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return current
	}

	feed := newFakeFeed()
	e := newTestEngine(t, store, &fakeSink{}, WithClock(clock))
	cancel := runEngine(t, e, map[string]drepo.Feed{"forceOrder": feed})
	defer cancel()

	feed.ch <- &models.LiquidationTick{
		Symbol: "BTCUSDT", Price: 66_500, Quantity: 0.1,
		Side: models.SideSell, EventTime: nowMs(),
	}
	waitFor(t, "liquidation level", func() bool {
		return len(e.LiquidationHeatmap().Levels) == 1
	})

	clockMu.Lock()
	current = current.Add(90 * time.Minute) // 00:30 the next day
	clockMu.Unlock()
	e.rollover(context.Background())

	if got := e.Day(); got != "2026-08-30" {
		t.Fatalf("Day() = %q after rollover, want 2026-08-30", got)
	}

	archived := store.get(ViewLiquidations, "2026-08-29")
	if archived == nil || len(archived.Levels) != 1 {
		t.Fatalf("closed day not archived: %+v", archived)
	}
	if archived.Levels[0].Sells != 6650 {
		t.Errorf("archived level = %+v", archived.Levels[0])
	}

	if levels := e.LiquidationHeatmap().Levels; len(levels) != 0 {
		t.Errorf("ladder not reset, levels = %+v", levels)
	}
	if levels := e.TakerHeatmap().Levels; len(levels) != 0 {
		t.Errorf("taker ladder not reset, levels = %+v", levels)
	}

	// A merge request for the freshly opened day must not pull the new
	// day's snapshot back in; the rollover already marked it merged.
	seeded := &models.DailySnapshot{
		Date:   "2026-08-30",
		Levels: []models.PriceLevel{{Price: 67_000, Delta: 50, Buys: 50}},
		Range:  models.PriceRange{Min: 66_990, Max: 67_010},
	}
	if err := store.Save(context.Background(), ViewTaker, seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e.RequestMerge()
	time.Sleep(50 * time.Millisecond)
	if levels := e.TakerHeatmap().Levels; len(levels) != 0 {
		t.Errorf("merge after rollover mutated the ladder, levels = %+v", levels)
	}
}

func TestEngine_CandlesValidation(t *testing.T) {
	e := newTestEngine(t, newFakeSnapshotStore(), &fakeSink{})

	if _, err := e.Candles(models.ViewPrice, drepo.Timeframe("7m"), 0); err == nil {
		t.Error("expected error for unknown timeframe")
	}
	if _, err := e.Candles(models.ViewKind("funding"), drepo.TF1m, 0); err == nil {
		t.Error("expected error for unknown view")
	}
	if _, err := e.HistoricalSnapshot(context.Background(), "funding", "2026-08-29"); err == nil {
		t.Error("expected error for unknown snapshot view")
	}
}
