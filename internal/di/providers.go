package di

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"MarketLens/internal/domain/repository"
	"MarketLens/internal/handler/api"
	internalrepo "MarketLens/internal/repository"
	"MarketLens/internal/service/binance"
	"MarketLens/internal/usecase"
	"MarketLens/pkg/cache"
	pkgch "MarketLens/pkg/clickhouse"
	"MarketLens/pkg/config"
	xhttp "MarketLens/pkg/http"
	pkgkafka "MarketLens/pkg/kafka"
	applogger "MarketLens/pkg/logger"
	"MarketLens/pkg/metrics"
	"MarketLens/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	level := "info"
	format := "json"
	if cfg.Environment == "development" {
		level = "debug"
		format = "console"
	}
	return applogger.New(&applogger.Config{Level: level, Format: format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client when the
// clickhouse backend is selected, nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend.Type != "clickhouse" {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.CandleSchema(cfg.ClickHouse.Table)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer when the kafka
// backend is selected, nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != "kafka" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideClickHouseStorage creates ClickHouse candle storage when the
// client is configured, nil otherwise.
func ProvideClickHouseStorage(chClient *pkgch.Client, cfg *config.Config) *internalrepo.ClickHouseStorage {
	if chClient == nil {
		return nil
	}
	return internalrepo.NewClickHouseStorage(chClient.DB(), cfg.ClickHouse.Table)
}

// ProvideCandleStorage adapts ClickHouse storage to the sink-facing
// interface. The nil check keeps a typed nil out of the interface.
func ProvideCandleStorage(s *internalrepo.ClickHouseStorage) repository.Storage {
	if s == nil {
		return nil
	}
	return s
}

// ProvideCandleHistory adapts ClickHouse storage to the read-side
// interface used by the history endpoint.
func ProvideCandleHistory(s *internalrepo.ClickHouseStorage) repository.CandleHistory {
	if s == nil {
		return nil
	}
	return s
}

// ProvideCandlePublisher creates a Kafka candle publisher.
func ProvideCandlePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideCandleSink creates the backend router for completed candles.
func ProvideCandleSink(
	pub repository.Publisher,
	store repository.Storage,
	m repository.Metrics,
	cfg *config.Config,
) repository.CandleSink {
	return usecase.NewCandleProcessor(pub, store, m, cfg.Backend.Type)
}

// ProvideSnapshotStore opens the SQLite snapshot database.
func ProvideSnapshotStore(cfg *config.Config) (repository.SnapshotStore, error) {
	return internalrepo.NewSQLiteSnapshotStore(cfg.Snapshots.DBPath)
}

// ProvideEngine creates the aggregation engine.
func ProvideEngine(
	lgr *applogger.Logger,
	m repository.Metrics,
	snapshots repository.SnapshotStore,
	sink repository.CandleSink,
	cfg *config.Config,
) *usecase.Engine {
	var opts []usecase.EngineOption
	if cfg.Aggregation.SaveInterval > 0 {
		opts = append(opts, usecase.WithSaveInterval(cfg.Aggregation.SaveInterval))
	}
	if cfg.Aggregation.LevelStep > 0 {
		opts = append(opts, usecase.WithLevelStep(cfg.Aggregation.LevelStep))
	}
	return usecase.NewEngine(lgr, m, snapshots, sink, opts...)
}

// ProvideFeeds creates one resilient stream connection per upstream
// stream, each wired to wake the engine's snapshot merge on live.
func ProvideFeeds(
	lgr *applogger.Logger,
	engine *usecase.Engine,
	m repository.Metrics,
	cfg *config.Config,
) map[string]repository.Feed {
	opts := func() []binance.Option {
		o := []binance.Option{
			binance.WithMetrics(m),
			binance.WithOnLive(engine.RequestMerge),
		}
		if cfg.Binance.Heartbeat > 0 {
			o = append(o, binance.WithHeartbeat(cfg.Binance.Heartbeat))
		}
		if cfg.Binance.BackoffBase > 0 && cfg.Binance.BackoffCap > 0 {
			o = append(o, binance.WithBackoff(cfg.Binance.BackoffBase, cfg.Binance.BackoffCap))
		}
		if cfg.Binance.BufferSize > 0 {
			o = append(o, binance.WithBuffer(cfg.Binance.BufferSize))
		}
		return o
	}

	url := cfg.Binance.WebSocketURL
	sym := cfg.Binance.Symbol
	return map[string]repository.Feed{
		"kline":      binance.New(lgr, url, sym+"@kline_1m", binance.DecodeKline, opts()...),
		"trade":      binance.New(lgr, url, sym+"@trade", binance.DecodeTrade, opts()...),
		"forceOrder": binance.New(lgr, url, sym+"@forceOrder", binance.DecodeForceOrder, opts()...),
	}
}

// ProvideCache creates the layered response cache when Redis is
// enabled, nil otherwise.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
	if err != nil {
		return nil, fmt.Errorf("redis addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("redis port: %w", err)
	}

	redisCache, err := cache.NewRedisCache(
		cache.WithRedisHost(host),
		cache.WithRedisPort(port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix("marketlens"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return cache.NewLayeredCache(redisCache), nil
}

// ProvideHandler creates the HTTP handler with its optional cache and
// candle history backend.
func ProvideHandler(lgr *applogger.Logger, engine *usecase.Engine, c cache.Service, history repository.CandleHistory) xhttp.Handler {
	h := api.NewMarketHandler(lgr, engine)
	if c != nil {
		h.SetCache(c)
	}
	if history != nil {
		h.SetHistory(history)
	}
	return h
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	engine *usecase.Engine,
	feeds map[string]repository.Feed,
	handler xhttp.Handler,
	chClient *pkgch.Client,
	c cache.Service,
	snapshots repository.SnapshotStore,
) *server.App {
	return server.New(cfg, lgr, engine, feeds, handler, chClient, c, snapshots)
}
