package binance

import (
	"encoding/json"
	"fmt"
	"strconv"

	"MarketLens/internal/domain/models"
)

// Decoder turns a raw stream frame into a domain event. Returning
// (nil, nil) means the frame is valid but carries nothing for us.
type Decoder func(data []byte) (models.Event, error)

type klineFrame struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Kline     struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
	} `json:"k"`
}

// DecodeKline parses a kline stream frame into a KlineTick carrying
// the candle's latest close.
func DecodeKline(data []byte) (models.Event, error) {
	var f klineFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("kline frame: %w", err)
	}
	if f.Event != "kline" {
		return nil, nil
	}
	close, err := parsePrice(f.Kline.Close)
	if err != nil {
		return nil, fmt.Errorf("kline close: %w", err)
	}
	return &models.KlineTick{
		Symbol:    f.Kline.Symbol,
		Close:     close,
		EventTime: f.EventTime,
	}, nil
}

type tradeFrame struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	BuyerIsMaker bool   `json:"m"`
}

// DecodeTrade parses a trade stream frame. The maker flag decides the
// taker side downstream: buyer-is-maker means the taker sold.
func DecodeTrade(data []byte) (models.Event, error) {
	var f tradeFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("trade frame: %w", err)
	}
	if f.Event != "trade" {
		return nil, nil
	}
	price, err := parsePrice(f.Price)
	if err != nil {
		return nil, fmt.Errorf("trade price: %w", err)
	}
	qty, err := parsePrice(f.Quantity)
	if err != nil {
		return nil, fmt.Errorf("trade quantity: %w", err)
	}
	return &models.TradeTick{
		Symbol:       f.Symbol,
		Price:        price,
		Quantity:     qty,
		BuyerIsMaker: f.BuyerIsMaker,
		EventTime:    f.EventTime,
	}, nil
}

type forceOrderFrame struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol   string `json:"s"`
		Side     string `json:"S"`
		Price    string `json:"p"`
		Quantity string `json:"q"`
	} `json:"o"`
}

// DecodeForceOrder parses a liquidation frame. Order side BUY means a
// short position was liquidated, SELL a long one.
func DecodeForceOrder(data []byte) (models.Event, error) {
	var f forceOrderFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("forceOrder frame: %w", err)
	}
	if f.Event != "forceOrder" {
		return nil, nil
	}
	price, err := parsePrice(f.Order.Price)
	if err != nil {
		return nil, fmt.Errorf("forceOrder price: %w", err)
	}
	qty, err := parsePrice(f.Order.Quantity)
	if err != nil {
		return nil, fmt.Errorf("forceOrder quantity: %w", err)
	}
	side := models.SideBuy
	if f.Order.Side == "SELL" {
		side = models.SideSell
	}
	return &models.LiquidationTick{
		Symbol:    f.Order.Symbol,
		Price:     price,
		Quantity:  qty,
		Side:      side,
		EventTime: f.EventTime,
	}, nil
}

func parsePrice(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric field")
	}
	return strconv.ParseFloat(s, 64)
}
