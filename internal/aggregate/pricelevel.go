package aggregate

import (
	"math"
	"sort"

	"MarketLens/internal/domain/models"
)

// PriceLevels accumulates signed and per-side magnitudes keyed by
// price rounded to a fixed granularity. It is price-indexed, not
// time-indexed; the engine rotates it once per UTC day.
// Not safe for concurrent use.
type PriceLevels struct {
	step   float64
	levels map[int64]*models.PriceLevel
	rng    models.PriceRange
}

// NewPriceLevels creates an aggregator with the given rounding step
// (e.g. 100 for levels at every 100 currency units).
func NewPriceLevels(step float64) *PriceLevels {
	if step <= 0 {
		step = 100
	}
	return &PriceLevels{
		step:   step,
		levels: make(map[int64]*models.PriceLevel),
	}
}

// Step returns the rounding granularity.
func (p *PriceLevels) Step() float64 { return p.step }

// Record adds one event at a raw price. Side BUY adds the magnitude
// positively to the signed total, SELL negatively; the unsigned
// magnitude goes to the matching side accumulator. Non-finite input
// is rejected without mutating state.
func (p *PriceLevels) Record(price, magnitude float64, side models.Side) error {
	if math.IsNaN(price) || math.IsInf(price, 0) ||
		math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return ErrInvalidValue
	}

	if p.rng.Min == 0 || price < p.rng.Min {
		p.rng.Min = price
	}
	if price > p.rng.Max {
		p.rng.Max = price
	}

	key := p.levelKey(price)
	lvl, ok := p.levels[key]
	if !ok {
		lvl = &models.PriceLevel{Price: float64(key) * p.step}
		p.levels[key] = lvl
	}

	if side == models.SideSell {
		lvl.Delta -= magnitude
		lvl.Sells += magnitude
	} else {
		lvl.Delta += magnitude
		lvl.Buys += magnitude
	}
	return nil
}

func (p *PriceLevels) levelKey(price float64) int64 {
	return int64(math.Round(price / p.step))
}

// Len returns the number of touched levels.
func (p *PriceLevels) Len() int { return len(p.levels) }

// Range returns the observed raw price range.
func (p *PriceLevels) Range() models.PriceRange { return p.rng }

// Sorted returns the touched levels ordered by price ascending.
func (p *PriceLevels) Sorted() []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(p.levels))
	for _, lvl := range p.levels {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// Dense returns a gap-filled ladder between the rounded observed min
// and max: levels with no events appear with zero magnitudes so
// consumers get a contiguous price axis.
func (p *PriceLevels) Dense() []models.PriceLevel {
	if len(p.levels) == 0 {
		return nil
	}

	lo := p.levelKey(p.rng.Min)
	hi := p.levelKey(p.rng.Max)

	out := make([]models.PriceLevel, 0, hi-lo+1)
	for k := lo; k <= hi; k++ {
		if lvl, ok := p.levels[k]; ok {
			out = append(out, *lvl)
		} else {
			out = append(out, models.PriceLevel{Price: float64(k) * p.step})
		}
	}
	return out
}

// Snapshot copies the aggregator state into a persistable record for
// the given calendar day.
func (p *PriceLevels) Snapshot(date string) *models.DailySnapshot {
	return &models.DailySnapshot{
		Date:   date,
		Levels: p.Sorted(),
		Range:  p.rng,
	}
}

// Merge sums a persisted snapshot into the live state. Summation
// (never overwrite) keeps events received while the snapshot was
// being loaded.
func (p *PriceLevels) Merge(snap *models.DailySnapshot) {
	if snap == nil {
		return
	}
	for _, in := range snap.Levels {
		key := p.levelKey(in.Price)
		if lvl, ok := p.levels[key]; ok {
			lvl.Delta += in.Delta
			lvl.Buys += in.Buys
			lvl.Sells += in.Sells
		} else {
			cp := in
			p.levels[key] = &cp
		}
	}
	if snap.Range.Min != 0 && (p.rng.Min == 0 || snap.Range.Min < p.rng.Min) {
		p.rng.Min = snap.Range.Min
	}
	if snap.Range.Max > p.rng.Max {
		p.rng.Max = snap.Range.Max
	}
}
