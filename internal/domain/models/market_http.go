package models

// Requests for the market HTTP endpoints. Defined in domain for consistency and reuse.

type CandlesRequest struct {
	TF     string `query:"tf" json:"tf" default:"5m" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 12h 1d 1w"`
	Scroll int    `query:"scroll" json:"scroll" default:"0" validate:"gte=0,lte=100000"`
}

type HeatmapRequest struct {
	Date string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type HistoryRequest struct {
	TF    string `query:"tf" json:"tf" default:"5m" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 12h 1d 1w"`
	From  string `query:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	To    string `query:"to" json:"to" validate:"omitempty,datetime=2006-01-02"`
	Limit int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}
