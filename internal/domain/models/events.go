package models

// Event is a typed message decoded from one feed stream.
type Event interface {
	Kind() string
}

// Side identifies the order side reported by the exchange.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// KlineTick carries the rolling close price of the 1m kline stream.
// EventTime is exchange event time in milliseconds.
type KlineTick struct {
	Symbol    string
	Close     float64
	EventTime int64
}

func (KlineTick) Kind() string { return "kline" }

// TradeTick is a single executed trade. BuyerIsMaker mirrors the
// exchange "m" flag: true means the aggressor was a seller.
type TradeTick struct {
	Symbol       string
	Price        float64
	Quantity     float64
	BuyerIsMaker bool
	EventTime    int64
}

func (TradeTick) Kind() string { return "trade" }

// Notional returns the trade value in quote currency.
func (t TradeTick) Notional() float64 { return t.Price * t.Quantity }

// Delta returns the signed taker flow: positive for aggressive buys,
// negative for aggressive sells.
func (t TradeTick) Delta() float64 {
	if t.BuyerIsMaker {
		return -t.Notional()
	}
	return t.Notional()
}

// LiquidationTick is a forced order event. Side BUY is a short
// liquidation, SELL a long liquidation.
type LiquidationTick struct {
	Symbol    string
	Price     float64
	Quantity  float64
	Side      Side
	EventTime int64
}

func (LiquidationTick) Kind() string { return "liquidation" }

// Notional returns the liquidated value in quote currency.
func (l LiquidationTick) Notional() float64 { return l.Price * l.Quantity }
