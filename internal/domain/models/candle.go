package models

// Candle is one OHLC aggregate for a single bucket of a timeframe.
// For flow views Open is the neutral element and Close the running
// total; for price views all four fields are prices.
type Candle struct {
	BucketStart int64   `json:"timestamp"` // bucket start, unix milliseconds UTC
	Label       string  `json:"time"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Complete    bool    `json:"complete"`
}

// ViewKind names the derived candle views the engine maintains.
type ViewKind string

const (
	ViewPrice  ViewKind = "price"
	ViewDelta  ViewKind = "delta"
	ViewVolume ViewKind = "volume"
)
