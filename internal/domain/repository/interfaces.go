package repository

import (
	"context"
	"time"

	"MarketLens/internal/domain/models"
)

// Feed is one resilient subscription to an upstream stream. Events
// are delivered in receipt order on a single channel; the channel is
// closed after Close or context cancellation.
type Feed interface {
	Start(ctx context.Context) error
	Events() <-chan models.Event
	Status() string
	Close() error
}

// SnapshotStore persists one record per (view, UTC calendar day).
// Save replaces any prior record for the same day.
type SnapshotStore interface {
	Save(ctx context.Context, view string, snap *models.DailySnapshot) error
	// Load returns (nil, nil) when no snapshot exists for the date.
	Load(ctx context.Context, view, date string) (*models.DailySnapshot, error)
	Dates(ctx context.Context, view string) ([]string, error)
	Close() error
}

// CandleSink receives candles the moment they become complete.
type CandleSink interface {
	Store(ctx context.Context, view models.ViewKind, tf Timeframe, c models.Candle) error
	Close() error
}

// Publisher pushes completed candles onto a message bus.
type Publisher interface {
	Publish(ctx context.Context, view models.ViewKind, tf Timeframe, c models.Candle) error
	Close() error
}

// Storage persists completed candles for historical queries.
type Storage interface {
	Store(ctx context.Context, view models.ViewKind, tf Timeframe, c models.Candle) error
	Close() error
}

// CandleHistory reads completed candles back out of storage, newest
// first.
type CandleHistory interface {
	Query(ctx context.Context, view models.ViewKind, tf Timeframe, from, to time.Time, limit int) ([]models.Candle, error)
	Health(ctx context.Context) error
}

// Metrics records operational measurements.
type Metrics interface {
	RecordEvent(stream string)
	RecordError(kind string)
	RecordReconnect(stream string)
	RecordConnState(stream string, state float64)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
