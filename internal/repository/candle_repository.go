package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"
	pkgkafka "MarketLens/pkg/kafka"
)

// CandleSchema returns the ClickHouse DDL for the completed-candle
// table, suitable for Client.InitSchema.
func CandleSchema(table string) []string {
	return []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	bucket_start DateTime64(3, 'UTC'),
	view LowCardinality(String),
	timeframe LowCardinality(String),
	label String,
	open Float64,
	high Float64,
	low Float64,
	close Float64
) ENGINE = ReplacingMergeTree
ORDER BY (view, timeframe, bucket_start)`, table)}
}

// ClickHouseStorage persists completed candles for historical queries.
type ClickHouseStorage struct {
	db    *sql.DB
	table string
}

var (
	_ drepo.Storage       = (*ClickHouseStorage)(nil)
	_ drepo.CandleHistory = (*ClickHouseStorage)(nil)
)

// NewClickHouseStorage creates ClickHouse candle storage.
func NewClickHouseStorage(db *sql.DB, table string) *ClickHouseStorage {
	return &ClickHouseStorage{db: db, table: table}
}

func (s *ClickHouseStorage) Store(ctx context.Context, view models.ViewKind, tf drepo.Timeframe, c models.Candle) error {
	q := fmt.Sprintf(
		"INSERT INTO %s (bucket_start, view, timeframe, label, open, high, low, close) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.table)
	_, err := s.db.ExecContext(ctx, q,
		time.UnixMilli(c.BucketStart).UTC(),
		string(view),
		string(tf),
		c.Label,
		c.Open,
		c.High,
		c.Low,
		c.Close,
	)
	return err
}

// Query returns completed candles for a view and timeframe, newest
// first.
func (s *ClickHouseStorage) Query(ctx context.Context, view models.ViewKind, tf drepo.Timeframe, from, to time.Time, limit int) ([]models.Candle, error) {
	q := fmt.Sprintf(
		"SELECT bucket_start, label, open, high, low, close FROM %s WHERE view = ? AND timeframe = ? AND bucket_start >= ? AND bucket_start <= ? ORDER BY bucket_start DESC LIMIT ?",
		s.table)
	rows, err := s.db.QueryContext(ctx, q, string(view), string(tf), from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		var ts time.Time
		if err := rows.Scan(&ts, &c.Label, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, err
		}
		c.BucketStart = ts.UnixMilli()
		c.Complete = true
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // pool managed by pkg client
}

// KafkaPublisher pushes completed candles onto a topic, keyed by view
// and timeframe so one partition preserves per-series order.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates a Kafka candle publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) drepo.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, view models.ViewKind, tf drepo.Timeframe, c models.Candle) error {
	key := fmt.Sprintf("%s.%s", view, tf)
	return p.producer.Publish(ctx, p.topic, []byte(key), map[string]interface{}{
		"view":      string(view),
		"timeframe": string(tf),
		"timestamp": c.BucketStart,
		"time":      c.Label,
		"open":      c.Open,
		"high":      c.High,
		"low":       c.Low,
		"close":     c.Close,
	})
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
