package aggregate

import (
	"errors"
	"math"

	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"
)

// ErrInvalidValue rejects non-finite ingest values.
var ErrInvalidValue = errors.New("aggregate: value is not finite")

// UpdateRule selects how a candle absorbs a new value.
type UpdateRule int

const (
	// Replace treats each value as the new close (price views).
	Replace UpdateRule = iota
	// Accumulate sums values into a running total per bucket
	// (delta and volume views); a new bucket opens at zero.
	Accumulate
)

// CandleSeries is an incremental per-timeframe candle accumulator.
// Not safe for concurrent use; callers serialize ingest and reads.
type CandleSeries struct {
	tf   drepo.Timeframe
	rule UpdateRule

	candles    []models.Candle
	hasCurrent bool
	curBucket  int64

	lastValue float64 // Replace: last raw value, carried into the next open
	running   float64 // Accumulate: running total of the current bucket
	runHigh   float64
	runLow    float64

	onComplete func(models.Candle)
}

// NewCandleSeries creates a series for one timeframe and update rule.
func NewCandleSeries(tf drepo.Timeframe, rule UpdateRule) *CandleSeries {
	return &CandleSeries{tf: tf, rule: rule}
}

// SetOnComplete registers a callback invoked with each candle the
// moment it is marked complete.
func (s *CandleSeries) SetOnComplete(fn func(models.Candle)) { s.onComplete = fn }

// Timeframe returns the series timeframe.
func (s *CandleSeries) Timeframe() drepo.Timeframe { return s.tf }

// Ingest applies one (timestamp, value) observation. Events older
// than the current bucket are dropped; non-finite values are rejected
// without mutating state.
func (s *CandleSeries) Ingest(tsMillis int64, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ErrInvalidValue
	}

	bucket := drepo.BucketStart(tsMillis, s.tf)

	switch {
	case !s.hasCurrent:
		s.open(bucket, value, value)
	case bucket == s.curBucket:
		s.update(value)
	case bucket > s.curBucket:
		s.roll(bucket, value)
	default:
		// Out-of-order event older than the current bucket: drop.
	}
	return nil
}

func (s *CandleSeries) open(bucket int64, carry, value float64) {
	var c models.Candle
	c.BucketStart = bucket
	c.Label = drepo.Label(bucket, s.tf)

	switch s.rule {
	case Replace:
		c.Open = carry
		c.Close = value
		c.High = math.Max(carry, value)
		c.Low = math.Min(carry, value)
		s.lastValue = value
	case Accumulate:
		c.Open = 0
		c.Close = value
		c.High = math.Max(0, value)
		c.Low = math.Min(0, value)
		s.running = value
		s.runHigh = c.High
		s.runLow = c.Low
	}

	s.candles = append(s.candles, c)
	s.hasCurrent = true
	s.curBucket = bucket
	s.trim()
}

func (s *CandleSeries) update(value float64) {
	cur := &s.candles[len(s.candles)-1]

	switch s.rule {
	case Replace:
		cur.Close = value
		cur.High = math.Max(cur.High, value)
		cur.Low = math.Min(cur.Low, value)
		s.lastValue = value
	case Accumulate:
		s.running += value
		s.runHigh = math.Max(s.runHigh, s.running)
		s.runLow = math.Min(s.runLow, s.running)
		cur.Close = s.running
		cur.High = s.runHigh
		cur.Low = s.runLow
	}
}

func (s *CandleSeries) roll(bucket int64, value float64) {
	cur := &s.candles[len(s.candles)-1]
	cur.Complete = true
	if s.onComplete != nil {
		s.onComplete(*cur)
	}

	carry := value
	if s.rule == Replace {
		carry = s.lastValue
	}
	s.open(bucket, carry, value)
}

func (s *CandleSeries) trim() {
	if limit := s.tf.MaxBars(); len(s.candles) > limit {
		s.candles = append(s.candles[:0:0], s.candles[len(s.candles)-limit:]...)
	}
}

// Len returns the number of retained candles.
func (s *CandleSeries) Len() int { return len(s.candles) }

// Candles returns a copy of the retained series, oldest first.
func (s *CandleSeries) Candles() []models.Candle {
	out := make([]models.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Window returns the view-window slice for a clamped scroll offset:
// scroll 0 is the most recent window, larger offsets reach back in
// time by whole candles.
func (s *CandleSeries) Window(scroll int) []models.Candle {
	visible := s.tf.VisibleBars()
	n := len(s.candles)

	maxScroll := n - visible
	if maxScroll < 0 {
		maxScroll = 0
	}
	if scroll < 0 {
		scroll = 0
	}
	if scroll > maxScroll {
		scroll = maxScroll
	}

	start := n - visible - scroll
	if start < 0 {
		start = 0
	}
	end := start + visible
	if end > n {
		end = n
	}

	out := make([]models.Candle, end-start)
	copy(out, s.candles[start:end])
	return out
}
