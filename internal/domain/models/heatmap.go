package models

// PriceLevel accumulates magnitudes at one rounded price.
// Delta is the signed sum (buy positive, sell negative); Buys and
// Sells hold the unsigned per-side totals.
type PriceLevel struct {
	Price float64 `json:"price"`
	Delta float64 `json:"delta"`
	Buys  float64 `json:"buys"`
	Sells float64 `json:"sells"`
}

// PriceRange is the observed raw (unrounded) price span of a day.
// Min == 0 and Max == 0 means nothing was observed yet.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DailySnapshot is the persisted state of one price-level view for
// one UTC calendar day, keyed by ISO date (YYYY-MM-DD).
type DailySnapshot struct {
	Date   string       `json:"date"`
	Levels []PriceLevel `json:"priceLevels"`
	Range  PriceRange   `json:"priceRange"`
}
