package aggregate

import (
	"math"
	"testing"
	"time"

	"MarketLens/internal/domain/models"
	"MarketLens/internal/domain/repository"
)

func at(h, m, s int) int64 {
	return time.Date(2024, 3, 15, h, m, s, 0, time.UTC).UnixMilli()
}

func TestCandleSeries_ReplaceRoll(t *testing.T) {
	series := NewCandleSeries(repository.TF5m, Replace)

	mustIngest(t, series, at(0, 0, 10), 100)
	mustIngest(t, series, at(0, 2, 0), 105)
	mustIngest(t, series, at(0, 5, 30), 103)

	candles := series.Candles()
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}

	first := candles[0]
	if !first.Complete {
		t.Error("first candle should be complete after roll")
	}
	if first.Open != 100 || first.High != 105 || first.Low != 100 || first.Close != 105 {
		t.Errorf("first candle OHLC = %v/%v/%v/%v", first.Open, first.High, first.Low, first.Close)
	}

	second := candles[1]
	if second.Complete {
		t.Error("current candle should not be complete")
	}
	if second.Open != 105 {
		t.Errorf("new candle open should carry last close 105, got %v", second.Open)
	}
	if second.Close != 103 {
		t.Errorf("new candle close = %v, want 103", second.Close)
	}
	if second.High != 105 || second.Low != 103 {
		t.Errorf("new candle high/low = %v/%v, want 105/103", second.High, second.Low)
	}
}

func TestCandleSeries_Invariants(t *testing.T) {
	series := NewCandleSeries(repository.TF1m, Replace)

	values := []float64{100, 97, 104, 101, 99, 110, 95, 102}
	ts := at(0, 0, 0)
	for i, v := range values {
		mustIngest(t, series, ts+int64(i)*7_000, v)
		for _, c := range series.Candles() {
			if c.Low > c.Open || c.Open > c.High {
				t.Fatalf("low<=open<=high violated: %v/%v/%v", c.Low, c.Open, c.High)
			}
			if c.Low > c.Close || c.Close > c.High {
				t.Fatalf("low<=close<=high violated: %v/%v/%v", c.Low, c.Close, c.High)
			}
		}
	}
}

func TestCandleSeries_ReplaceCarryAboveNewValue(t *testing.T) {
	series := NewCandleSeries(repository.TF1m, Replace)

	mustIngest(t, series, at(0, 0, 0), 200)
	mustIngest(t, series, at(0, 1, 0), 150)

	cur := series.Candles()[1]
	if cur.Open != 200 || cur.Close != 150 {
		t.Fatalf("open/close = %v/%v, want 200/150", cur.Open, cur.Close)
	}
	if cur.High != 200 || cur.Low != 150 {
		t.Errorf("high/low = %v/%v, want 200/150", cur.High, cur.Low)
	}
}

func TestCandleSeries_Accumulate(t *testing.T) {
	series := NewCandleSeries(repository.TF1m, Accumulate)

	mustIngest(t, series, at(0, 0, 1), 50)
	mustIngest(t, series, at(0, 0, 2), -120)
	mustIngest(t, series, at(0, 0, 3), 30)

	c := series.Candles()[0]
	if c.Open != 0 {
		t.Errorf("accumulate open = %v, want 0", c.Open)
	}
	if c.Close != -40 {
		t.Errorf("running total = %v, want -40", c.Close)
	}
	if c.High != 50 {
		t.Errorf("running high = %v, want 50", c.High)
	}
	if c.Low != -70 {
		t.Errorf("running low = %v, want -70", c.Low)
	}

	// new bucket starts its own running total from zero
	mustIngest(t, series, at(0, 1, 0), 10)
	cur := series.Candles()[1]
	if cur.Open != 0 || cur.Close != 10 || cur.High != 10 || cur.Low != 0 {
		t.Errorf("new bucket OHLC = %v/%v/%v/%v", cur.Open, cur.High, cur.Low, cur.Close)
	}
}

func TestCandleSeries_InvalidValue(t *testing.T) {
	series := NewCandleSeries(repository.TF1m, Replace)
	mustIngest(t, series, at(0, 0, 0), 100)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := series.Ingest(at(0, 0, 30), v); err != ErrInvalidValue {
			t.Errorf("Ingest(%v) err = %v, want ErrInvalidValue", v, err)
		}
	}

	c := series.Candles()[0]
	if c.Close != 100 {
		t.Errorf("rejected value must not mutate state, close = %v", c.Close)
	}
}

func TestCandleSeries_OutOfOrderDropped(t *testing.T) {
	series := NewCandleSeries(repository.TF1m, Replace)

	mustIngest(t, series, at(0, 5, 0), 100)
	if err := series.Ingest(at(0, 3, 0), 999); err != nil {
		t.Fatalf("older event should be dropped without error, got %v", err)
	}

	if got := series.Len(); got != 1 {
		t.Fatalf("series length = %d, want 1", got)
	}
	if c := series.Candles()[0]; c.Close != 100 {
		t.Errorf("dropped event mutated close: %v", c.Close)
	}
}

func TestCandleSeries_Retention(t *testing.T) {
	series := NewCandleSeries(repository.TF1m, Replace)

	limit := repository.TF1m.MaxBars()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	for i := 0; i < limit+10; i++ {
		mustIngest(t, series, base+int64(i)*60_000, float64(i))
	}

	if got := series.Len(); got != limit {
		t.Fatalf("series length = %d, want %d", got, limit)
	}
	candles := series.Candles()
	if candles[len(candles)-1].Close != float64(limit+9) {
		t.Errorf("newest candle close = %v, want %v", candles[len(candles)-1].Close, float64(limit+9))
	}
}

func TestCandleSeries_OnComplete(t *testing.T) {
	series := NewCandleSeries(repository.TF1m, Replace)

	var completed []float64
	series.SetOnComplete(func(c models.Candle) {
		completed = append(completed, c.Close)
	})

	mustIngest(t, series, at(0, 0, 0), 100)
	mustIngest(t, series, at(0, 1, 0), 101)
	mustIngest(t, series, at(0, 2, 0), 102)

	if len(completed) != 2 {
		t.Fatalf("onComplete fired %d times, want 2", len(completed))
	}
	if completed[0] != 100 || completed[1] != 101 {
		t.Errorf("completed closes = %v", completed)
	}
}

func TestCandleSeries_Window(t *testing.T) {
	series := NewCandleSeries(repository.TF1m, Replace)

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	total := 200
	for i := 0; i < total; i++ {
		mustIngest(t, series, base+int64(i)*60_000, float64(i))
	}

	visible := repository.TF1m.VisibleBars()

	tests := []struct {
		name   string
		scroll int
		first  float64
		last   float64
		length int
	}{
		{"latest", 0, float64(total - visible), float64(total - 1), visible},
		{"scrolled back", 10, float64(total - visible - 10), float64(total - 11), visible},
		{"scroll clamped to oldest", 10_000, 0, float64(visible - 1), visible},
		{"negative scroll clamped", -5, float64(total - visible), float64(total - 1), visible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			win := series.Window(tt.scroll)
			if len(win) != tt.length {
				t.Fatalf("window length = %d, want %d", len(win), tt.length)
			}
			if win[0].Close != tt.first || win[len(win)-1].Close != tt.last {
				t.Errorf("window bounds = %v..%v, want %v..%v",
					win[0].Close, win[len(win)-1].Close, tt.first, tt.last)
			}
		})
	}
}

func TestCandleSeries_WindowShorterThanVisible(t *testing.T) {
	series := NewCandleSeries(repository.TF1m, Replace)

	mustIngest(t, series, at(0, 0, 0), 100)
	mustIngest(t, series, at(0, 1, 0), 101)

	win := series.Window(0)
	if len(win) != 2 {
		t.Fatalf("window length = %d, want 2", len(win))
	}
}

func mustIngest(t *testing.T, s *CandleSeries, ts int64, v float64) {
	t.Helper()
	if err := s.Ingest(ts, v); err != nil {
		t.Fatalf("Ingest(%d, %v) error: %v", ts, v, err)
	}
}
