package api

import (
	"net/http"
	"time"

	"MarketLens/internal/domain/models"
	domrepo "MarketLens/internal/domain/repository"
	"MarketLens/internal/service/metrics"
	"MarketLens/internal/service/ratelimit"
	"MarketLens/internal/usecase"
	"MarketLens/pkg/cache"
	xhttp "MarketLens/pkg/http"
	xlogger "MarketLens/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Historical days never change once closed, so their responses cache
// for a long time.
const historicalTTL = 24 * time.Hour

// defaultHistoryWindow bounds completed-candle queries when the
// caller gives no from date.
const defaultHistoryWindow = 30 * 24 * time.Hour

// MarketHandler implements Echo-based HTTP handlers for the live and
// historical market views.
type MarketHandler struct {
	logger  *xlogger.Logger
	engine  *usecase.Engine
	cache   cache.Service
	history domrepo.CandleHistory
	rl      *ratelimit.Limiter
}

func NewMarketHandler(logger *xlogger.Logger, engine *usecase.Engine) *MarketHandler {
	metrics.Register()
	return &MarketHandler{logger: logger, engine: engine, rl: ratelimit.New()}
}

// SetCache injects a response cache for historical snapshots.
func (h *MarketHandler) SetCache(c cache.Service) { h.cache = c }

// SetHistory injects completed-candle storage. The history endpoint
// is only registered when storage is configured.
func (h *MarketHandler) SetHistory(hist domrepo.CandleHistory) { h.history = hist }

func (h *MarketHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/candles/:view", h.Candles)
	if h.history != nil {
		g.GET("/candles/:view/history", h.HistoryCandles)
	}
	g.GET("/heatmap/:view", h.Heatmap)
	g.GET("/heatmap/:view/dates", h.HeatmapDates)
	g.GET("/status", h.Status)
	e.GET("/health", h.Health)
}

var candleViews = map[string]models.ViewKind{
	"price":  models.ViewPrice,
	"delta":  models.ViewDelta,
	"volume": models.ViewVolume,
}

func (h *MarketHandler) Candles(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.EndpointLatency.WithLabelValues("candles").Observe(time.Since(start).Seconds()) }()

	view, ok := candleViews[c.Param("view")]
	if !ok {
		return xhttp.NotFoundResponse(c, "unknown candle view")
	}
	if !h.rl.Allow(c.RealIP()+":candles", 20, 10) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limited"))
	}

	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := domrepo.NormalizeTimeframe(req.TF)

	candles, err := h.engine.Candles(view, tf, req.Scroll)
	if err != nil {
		metrics.EndpointErrors.WithLabelValues("candles").Inc()
		h.logger.Error("candles query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, candles)
}

// HistoryCandles serves completed candles from the storage backend,
// bounded by an optional date range.
func (h *MarketHandler) HistoryCandles(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.EndpointLatency.WithLabelValues("history").Observe(time.Since(start).Seconds()) }()

	view, ok := candleViews[c.Param("view")]
	if !ok {
		return xhttp.NotFoundResponse(c, "unknown candle view")
	}
	if !h.rl.Allow(c.RealIP()+":history", 10, 5) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limited"))
	}

	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	to := time.Now().UTC()
	if req.To != "" {
		day, _ := time.Parse("2006-01-02", req.To)
		to = day.Add(24*time.Hour - time.Millisecond)
	}
	from := to.Add(-defaultHistoryWindow)
	if req.From != "" {
		from, _ = time.Parse("2006-01-02", req.From)
	}

	candles, err := h.history.Query(c.Request().Context(), view, domrepo.NormalizeTimeframe(req.TF), from, to, req.Limit)
	if err != nil {
		metrics.EndpointErrors.WithLabelValues("history").Inc()
		h.logger.Error("history query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, candles)
}

func (h *MarketHandler) Heatmap(c echo.Context) error {
	start := time.Now()
	defer func() { metrics.EndpointLatency.WithLabelValues("heatmap").Observe(time.Since(start).Seconds()) }()

	view := c.Param("view")
	if view != usecase.ViewTaker && view != usecase.ViewLiquidations {
		return xhttp.NotFoundResponse(c, "unknown heatmap view")
	}
	if !h.rl.Allow(c.RealIP()+":heatmap", 10, 5) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("rate limited"))
	}

	req := &models.HeatmapRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	// no date means the live ladder
	if req.Date == "" || req.Date == h.engine.Day() {
		if view == usecase.ViewTaker {
			return xhttp.SuccessResponse(c, h.engine.TakerHeatmap())
		}
		return xhttp.SuccessResponse(c, h.engine.LiquidationHeatmap())
	}

	ctx := c.Request().Context()
	cacheKey := "heatmap:" + view + ":" + req.Date
	if h.cache != nil {
		var cached models.DailySnapshot
		if err := h.cache.Get(ctx, cacheKey, &cached); err == nil {
			return xhttp.SuccessResponse(c, &cached)
		} else if err != cache.ErrCacheMiss {
			h.logger.Warn("heatmap cache get error", xlogger.Error(err))
		}
	}

	snap, err := h.engine.HistoricalSnapshot(ctx, view, req.Date)
	if err != nil {
		metrics.EndpointErrors.WithLabelValues("heatmap").Inc()
		h.logger.Error("heatmap query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	if snap == nil {
		return xhttp.NotFoundResponse(c, "no snapshot for "+req.Date)
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, cacheKey, snap, historicalTTL); err != nil {
			h.logger.Warn("heatmap cache set error", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, snap)
}

func (h *MarketHandler) HeatmapDates(c echo.Context) error {
	view := c.Param("view")
	if view != usecase.ViewTaker && view != usecase.ViewLiquidations {
		return xhttp.NotFoundResponse(c, "unknown heatmap view")
	}

	dates, err := h.engine.HistoricalDates(c.Request().Context(), view)
	if err != nil {
		h.logger.Error("heatmap dates error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, dates)
}

func (h *MarketHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"feeds": h.engine.Status(),
		"day":   h.engine.Day(),
	})
}

func (h *MarketHandler) Health(c echo.Context) error {
	if h.history != nil {
		if err := h.history.Health(c.Request().Context()); err != nil {
			h.logger.Error("storage health check failed", xlogger.Error(err))
			appErr := xhttp.NewAppError("ERR_UNAVAILABLE", "", "storage unavailable", http.StatusServiceUnavailable)
			return xhttp.AppErrorResponse(c, appErr.WithError(err))
		}
	}
	return xhttp.SuccessResponse(c, "ok")
}
