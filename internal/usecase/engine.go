package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketLens/internal/aggregate"
	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"
	"MarketLens/pkg/logger"
)

// Snapshot view identifiers.
const (
	ViewTaker        = "taker"
	ViewLiquidations = "liquidations"
)

const (
	defaultSaveInterval = time.Minute
	defaultLevelStep    = 100
	sinkQueueSize       = 256
)

type completedCandle struct {
	view models.ViewKind
	tf   drepo.Timeframe
	c    models.Candle
}

// Engine fans incoming feed events out to candle series on every
// timeframe plus the two daily price-level aggregators, and serves
// read views of all of them.
//
// Lock families: price candles, flow (delta/volume candles plus the
// taker levels, all fed by trades), and liquidations. Each family is
// written by exactly one feed, so the families never contend.
type Engine struct {
	lgr       *logger.Logger
	metrics   drepo.Metrics
	snapshots drepo.SnapshotStore
	sink      drepo.CandleSink

	saveEvery time.Duration
	levelStep float64
	now       func() time.Time

	priceMu sync.RWMutex
	price   map[drepo.Timeframe]*aggregate.CandleSeries

	flowMu sync.RWMutex
	delta  map[drepo.Timeframe]*aggregate.CandleSeries
	volume map[drepo.Timeframe]*aggregate.CandleSeries
	taker  *aggregate.PriceLevels

	liqMu sync.RWMutex
	liq   *aggregate.PriceLevels

	dayMu     sync.Mutex
	day       string
	mergedDay string

	feedMu sync.Mutex
	feeds  map[string]drepo.Feed

	completed chan completedCandle
	mergeReq  chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type EngineOption func(*Engine)

// WithSaveInterval overrides the periodic snapshot cadence.
func WithSaveInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.saveEvery = d
		}
	}
}

// WithLevelStep overrides the heatmap price rounding granularity.
func WithLevelStep(step float64) EngineOption {
	return func(e *Engine) {
		if step > 0 {
			e.levelStep = step
		}
	}
}

// WithClock injects a time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine with one candle series per timeframe
// and view, and fresh price-level aggregators for the current day.
func NewEngine(
	lgr *logger.Logger,
	metrics drepo.Metrics,
	snapshots drepo.SnapshotStore,
	sink drepo.CandleSink,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		lgr:       lgr,
		metrics:   metrics,
		snapshots: snapshots,
		sink:      sink,
		saveEvery: defaultSaveInterval,
		levelStep: defaultLevelStep,
		now:       time.Now,
		price:     make(map[drepo.Timeframe]*aggregate.CandleSeries),
		delta:     make(map[drepo.Timeframe]*aggregate.CandleSeries),
		volume:    make(map[drepo.Timeframe]*aggregate.CandleSeries),
		feeds:     make(map[string]drepo.Feed),
		completed: make(chan completedCandle, sinkQueueSize),
		mergeReq:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.taker = aggregate.NewPriceLevels(e.levelStep)
	e.liq = aggregate.NewPriceLevels(e.levelStep)
	e.day = drepo.DayKey(e.now().UTC())

	for _, tf := range drepo.Timeframes() {
		e.price[tf] = e.newSeries(models.ViewPrice, tf, aggregate.Replace)
		e.delta[tf] = e.newSeries(models.ViewDelta, tf, aggregate.Accumulate)
		e.volume[tf] = e.newSeries(models.ViewVolume, tf, aggregate.Accumulate)
	}
	return e
}

func (e *Engine) newSeries(view models.ViewKind, tf drepo.Timeframe, rule aggregate.UpdateRule) *aggregate.CandleSeries {
	s := aggregate.NewCandleSeries(tf, rule)
	s.SetOnComplete(func(c models.Candle) {
		select {
		case e.completed <- completedCandle{view: view, tf: tf, c: c}:
		default:
			// sink backlog, drop rather than stall ingestion
			e.metrics.RecordError("sink_backlog")
		}
	})
	return s
}

// RequestMerge asks the engine to fold today's persisted snapshots
// into live state. Feeds call this when their subscription goes live.
func (e *Engine) RequestMerge() {
	select {
	case e.mergeReq <- struct{}{}:
	default:
	}
}

// Run starts the feeds and all background loops, blocking only until
// startup completes.
func (e *Engine) Run(ctx context.Context, feeds map[string]drepo.Feed) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.feedMu.Lock()
	for name, f := range feeds {
		e.feeds[name] = f
	}
	e.feedMu.Unlock()

	for name, f := range feeds {
		if err := f.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("start feed %s: %w", name, err)
		}
		e.wg.Add(1)
		go e.consume(ctx, name, f)
	}

	e.wg.Add(4)
	go e.drainCompleted(ctx)
	go e.saveLoop(ctx)
	go e.rolloverLoop(ctx)
	go e.mergeLoop(ctx)

	e.lgr.Info("engine started", logger.Int("feeds", len(feeds)))
	return nil
}

func (e *Engine) consume(ctx context.Context, name string, f drepo.Feed) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.Events():
			if !ok {
				e.lgr.Info("feed drained", logger.String("feed", name))
				return
			}
			e.handleEvent(ev)
		}
	}
}

func (e *Engine) handleEvent(ev models.Event) {
	switch t := ev.(type) {
	case *models.KlineTick:
		e.ingestPrice(t)
	case *models.TradeTick:
		e.ingestTrade(t)
	case *models.LiquidationTick:
		e.ingestLiquidation(t)
	default:
		e.metrics.RecordError("unknown_event")
	}
}

func (e *Engine) ingestPrice(t *models.KlineTick) {
	e.priceMu.Lock()
	defer e.priceMu.Unlock()
	for _, s := range e.price {
		if err := s.Ingest(t.EventTime, t.Close); err != nil {
			e.metrics.RecordError("invalid_value")
			e.lgr.Debug("price ingest rejected", logger.Error(err))
			return
		}
	}
	e.metrics.RecordLastPrice(t.Symbol, t.Close)
}

func (e *Engine) ingestTrade(t *models.TradeTick) {
	side := models.SideBuy
	if t.BuyerIsMaker {
		side = models.SideSell
	}

	// Trade-driven views bucket by arrival time; only klines carry an
	// authoritative exchange timestamp.
	at := e.now().UTC().UnixMilli()

	e.flowMu.Lock()
	defer e.flowMu.Unlock()
	for _, s := range e.delta {
		if err := s.Ingest(at, t.Delta()); err != nil {
			e.metrics.RecordError("invalid_value")
			return
		}
	}
	for _, s := range e.volume {
		if err := s.Ingest(at, t.Notional()); err != nil {
			e.metrics.RecordError("invalid_value")
			return
		}
	}
	if err := e.taker.Record(t.Price, t.Notional(), side); err != nil {
		e.metrics.RecordError("invalid_value")
	}
}

func (e *Engine) ingestLiquidation(t *models.LiquidationTick) {
	e.liqMu.Lock()
	defer e.liqMu.Unlock()
	if err := e.liq.Record(t.Price, t.Notional(), t.Side); err != nil {
		e.metrics.RecordError("invalid_value")
	}
}

func (e *Engine) drainCompleted(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cc := <-e.completed:
			if err := e.sink.Store(ctx, cc.view, cc.tf, cc.c); err != nil {
				e.lgr.Warn("completed candle not stored",
					logger.String("view", string(cc.view)),
					logger.String("timeframe", string(cc.tf)),
					logger.Error(err))
			}
		}
	}
}

func (e *Engine) saveLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.saveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.saveSnapshots(ctx)
		}
	}
}

func (e *Engine) saveSnapshots(ctx context.Context) {
	e.dayMu.Lock()
	day := e.day
	e.dayMu.Unlock()

	e.flowMu.RLock()
	takerSnap := e.taker.Snapshot(day)
	e.flowMu.RUnlock()

	e.liqMu.RLock()
	liqSnap := e.liq.Snapshot(day)
	e.liqMu.RUnlock()

	start := time.Now()
	if err := e.snapshots.Save(ctx, ViewTaker, takerSnap); err != nil {
		e.metrics.RecordError("snapshot_save")
		e.lgr.Error("taker snapshot save failed", logger.Error(err))
	}
	if err := e.snapshots.Save(ctx, ViewLiquidations, liqSnap); err != nil {
		e.metrics.RecordError("snapshot_save")
		e.lgr.Error("liquidation snapshot save failed", logger.Error(err))
	}
	e.metrics.RecordLatency("snapshot_save", time.Since(start).Seconds())
}

// rolloverLoop persists the closing day and resets both price-level
// aggregators exactly once per UTC midnight.
func (e *Engine) rolloverLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		now := e.now().UTC()
		wait := drepo.NextUTCMidnight(now).Sub(now)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			e.rollover(ctx)
		}
	}
}

func (e *Engine) rollover(ctx context.Context) {
	e.saveSnapshots(ctx)

	newDay := drepo.DayKey(e.now().UTC())

	e.flowMu.Lock()
	e.taker = aggregate.NewPriceLevels(e.levelStep)
	e.flowMu.Unlock()

	e.liqMu.Lock()
	e.liq = aggregate.NewPriceLevels(e.levelStep)
	e.liqMu.Unlock()

	e.dayMu.Lock()
	old := e.day
	e.day = newDay
	// nothing to merge for a day that just started
	e.mergedDay = newDay
	e.dayMu.Unlock()

	e.lgr.Info("day rollover",
		logger.String("closed", old),
		logger.String("opened", newDay))
}

func (e *Engine) mergeLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.mergeReq:
			e.mergeToday(ctx)
		}
	}
}

// mergeToday folds persisted snapshots for the current day into live
// state, at most once per day. Summation keeps events that arrived
// while the load was in flight.
func (e *Engine) mergeToday(ctx context.Context) {
	e.dayMu.Lock()
	day := e.day
	if e.mergedDay == day {
		e.dayMu.Unlock()
		return
	}
	e.dayMu.Unlock()

	takerSnap, err := e.snapshots.Load(ctx, ViewTaker, day)
	if err != nil {
		e.metrics.RecordError("snapshot_load")
		e.lgr.Error("taker snapshot load failed", logger.Error(err))
		return
	}
	liqSnap, err := e.snapshots.Load(ctx, ViewLiquidations, day)
	if err != nil {
		e.metrics.RecordError("snapshot_load")
		e.lgr.Error("liquidation snapshot load failed", logger.Error(err))
		return
	}

	if takerSnap != nil {
		e.flowMu.Lock()
		e.taker.Merge(takerSnap)
		e.flowMu.Unlock()
	}
	if liqSnap != nil {
		e.liqMu.Lock()
		e.liq.Merge(liqSnap)
		e.liqMu.Unlock()
	}

	e.dayMu.Lock()
	e.mergedDay = day
	e.dayMu.Unlock()

	e.lgr.Info("snapshots merged",
		logger.String("date", day),
		logger.Bool("taker", takerSnap != nil),
		logger.Bool("liquidations", liqSnap != nil))
}

// Candles returns the visible window of the requested view and
// timeframe, scrolled back by scroll bars.
func (e *Engine) Candles(view models.ViewKind, tf drepo.Timeframe, scroll int) ([]models.Candle, error) {
	if !drepo.IsValidTimeframe(tf) {
		return nil, fmt.Errorf("unknown timeframe: %s", tf)
	}

	switch view {
	case models.ViewPrice:
		e.priceMu.RLock()
		defer e.priceMu.RUnlock()
		return e.price[tf].Window(scroll), nil
	case models.ViewDelta:
		e.flowMu.RLock()
		defer e.flowMu.RUnlock()
		return e.delta[tf].Window(scroll), nil
	case models.ViewVolume:
		e.flowMu.RLock()
		defer e.flowMu.RUnlock()
		return e.volume[tf].Window(scroll), nil
	default:
		return nil, fmt.Errorf("unknown view: %s", view)
	}
}

// TakerHeatmap returns the live taker-delta ladder for the current
// day, gap filled between the observed extremes.
func (e *Engine) TakerHeatmap() *models.DailySnapshot {
	e.dayMu.Lock()
	day := e.day
	e.dayMu.Unlock()

	e.flowMu.RLock()
	defer e.flowMu.RUnlock()
	return &models.DailySnapshot{
		Date:   day,
		Levels: e.taker.Dense(),
		Range:  e.taker.Range(),
	}
}

// LiquidationHeatmap returns the live liquidation ladder for the
// current day.
func (e *Engine) LiquidationHeatmap() *models.DailySnapshot {
	e.dayMu.Lock()
	day := e.day
	e.dayMu.Unlock()

	e.liqMu.RLock()
	defer e.liqMu.RUnlock()
	return &models.DailySnapshot{
		Date:   day,
		Levels: e.liq.Dense(),
		Range:  e.liq.Range(),
	}
}

// HistoricalSnapshot loads a persisted day for the given view.
func (e *Engine) HistoricalSnapshot(ctx context.Context, view, date string) (*models.DailySnapshot, error) {
	if view != ViewTaker && view != ViewLiquidations {
		return nil, fmt.Errorf("unknown view: %s", view)
	}
	return e.snapshots.Load(ctx, view, date)
}

// HistoricalDates lists days with a persisted snapshot for the view.
func (e *Engine) HistoricalDates(ctx context.Context, view string) ([]string, error) {
	if view != ViewTaker && view != ViewLiquidations {
		return nil, fmt.Errorf("unknown view: %s", view)
	}
	return e.snapshots.Dates(ctx, view)
}

// Status reports the lifecycle state of every feed.
func (e *Engine) Status() map[string]string {
	e.feedMu.Lock()
	defer e.feedMu.Unlock()
	out := make(map[string]string, len(e.feeds))
	for name, f := range e.feeds {
		out[name] = f.Status()
	}
	return out
}

// Day returns the UTC calendar day currently being aggregated.
func (e *Engine) Day() string {
	e.dayMu.Lock()
	defer e.dayMu.Unlock()
	return e.day
}

// Stop closes the feeds, waits for the loops to drain, and persists a
// final snapshot.
func (e *Engine) Stop(ctx context.Context) error {
	e.feedMu.Lock()
	for name, f := range e.feeds {
		if err := f.Close(); err != nil {
			e.lgr.Warn("feed close failed",
				logger.String("feed", name), logger.Error(err))
		}
	}
	e.feedMu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	e.saveSnapshots(ctx)
	return e.sink.Close()
}
