package usecase

import (
	"context"
	"fmt"
	"time"

	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"
)

// CandleProcessor routes completed candles to the configured backend.
type CandleProcessor struct {
	pub     drepo.Publisher
	store   drepo.Storage
	metrics drepo.Metrics
	backend string
}

// NewCandleProcessor creates a new CandleProcessor instance.
func NewCandleProcessor(
	pub drepo.Publisher,
	store drepo.Storage,
	metrics drepo.Metrics,
	backend string,
) *CandleProcessor {
	return &CandleProcessor{
		pub:     pub,
		store:   store,
		metrics: metrics,
		backend: backend,
	}
}

// Store routes one completed candle to the configured backend.
func (p *CandleProcessor) Store(ctx context.Context, view models.ViewKind, tf drepo.Timeframe, c models.Candle) error {
	start := time.Now()
	var err error

	switch p.backend {
	case "kafka":
		err = p.pub.Publish(ctx, view, tf, c)
	case "clickhouse":
		err = p.store.Store(ctx, view, tf, c)
	case "none", "":
		return nil
	default:
		err = fmt.Errorf("unknown backend: %s", p.backend)
	}

	if err != nil {
		p.metrics.RecordError("candle_store")
		return fmt.Errorf("store candle: %w", err)
	}

	p.metrics.RecordLatency("candle_store", time.Since(start).Seconds())
	return nil
}

// Close closes underlying resources if available.
func (p *CandleProcessor) Close() error {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
	return nil
}
