package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"MarketLens/internal/domain/models"
	drepo "MarketLens/internal/domain/repository"
	"MarketLens/pkg/logger"

	"github.com/gorilla/websocket"
)

// Connection lifecycle states. A connection is only Live after the
// exchange acknowledged the subscribe request.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateAwaitingAck  = "awaiting_ack"
	StateLive         = "live"
	StateReconnecting = "reconnecting"
	StateClosed       = "closed"
)

const (
	subscribeID   = 1
	unsubscribeID = 2

	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second
	defaultHeartbeat   = 30 * time.Second
	defaultBuffer      = 1024
)

// wsConn is the subset of *websocket.Conn the state machine needs.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a websocket to the given URL.
type Dialer func(ctx context.Context, url string) (wsConn, error)

func gorillaDialer(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Backoff returns the reconnect delay for the given attempt:
// base doubled per attempt, capped at limit.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// Conn maintains one exchange stream subscription across reconnects
// and feeds decoded events to the aggregation layer in arrival order.
type Conn struct {
	url    string
	stream string
	decode Decoder

	dial        Dialer
	backoffBase time.Duration
	backoffCap  time.Duration
	heartbeat   time.Duration

	lgr     *logger.Logger
	metrics drepo.Metrics

	events chan models.Event
	onLive func()

	mu      sync.Mutex
	state   string
	ws      wsConn
	closed  bool
	done    chan struct{}
	writeMu sync.Mutex
}

type Option func(*Conn)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Conn) { c.dial = d }
}

// WithBackoff sets the reconnect delay base and cap.
func WithBackoff(base, limit time.Duration) Option {
	return func(c *Conn) {
		c.backoffBase = base
		c.backoffCap = limit
	}
}

// WithHeartbeat sets the keepalive ping interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Conn) { c.heartbeat = d }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m drepo.Metrics) Option {
	return func(c *Conn) { c.metrics = m }
}

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.events = make(chan models.Event, n)
		}
	}
}

// WithOnLive registers a callback fired each time the subscription is
// acknowledged, including after reconnects.
func WithOnLive(fn func()) Option {
	return func(c *Conn) { c.onLive = fn }
}

// New creates a connection for one stream. The stream name doubles as
// the subscribe parameter, e.g. "btcusdt@trade".
func New(lgr *logger.Logger, url, stream string, decode Decoder, opts ...Option) *Conn {
	c := &Conn{
		url:         url + "/" + stream,
		stream:      stream,
		decode:      decode,
		dial:        gorillaDialer,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		heartbeat:   defaultHeartbeat,
		lgr:         lgr,
		events:      make(chan models.Event, defaultBuffer),
		state:       StateDisconnected,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the decoded event stream. The channel is closed when
// the connection shuts down for good.
func (c *Conn) Events() <-chan models.Event { return c.events }

// Status reports the current lifecycle state.
func (c *Conn) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.metrics != nil {
		var v float64
		if s == StateLive {
			v = 1
		}
		c.metrics.RecordConnState(c.stream, v)
	}
}

// Start runs the connect/subscribe/read loop until Close or context
// cancellation.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("stream %s: connection closed", c.stream)
	}
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.events)

	attempt := 0
	for {
		if c.stopped(ctx) {
			c.setState(StateClosed)
			return
		}

		c.setState(StateConnecting)
		ws, err := c.dial(ctx, c.url)
		if err != nil {
			c.lgr.Warn("stream connect failed",
				logger.String("stream", c.stream),
				logger.Error(err))
			if c.metrics != nil {
				c.metrics.RecordError("connect")
			}
			if !c.waitBackoff(ctx, attempt) {
				c.setState(StateClosed)
				return
			}
			attempt++
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.mu.Unlock()

		c.setState(StateAwaitingAck)
		if err := c.writeJSON(ws, subscribeRequest{
			Method: "SUBSCRIBE",
			Params: []string{c.stream},
			ID:     subscribeID,
		}); err != nil {
			c.lgr.Warn("subscribe write failed",
				logger.String("stream", c.stream),
				logger.Error(err))
			_ = ws.Close()
			if !c.waitBackoff(ctx, attempt) {
				c.setState(StateClosed)
				return
			}
			attempt++
			continue
		}

		// attempt is reset inside readLoop once the subscribe ack
		// arrives, never merely on TCP connect
		attempt = c.readLoop(ctx, ws, attempt)

		_ = ws.Close()
		if c.stopped(ctx) {
			c.setState(StateClosed)
			return
		}

		c.setState(StateReconnecting)
		if c.metrics != nil {
			c.metrics.RecordReconnect(c.stream)
		}
		if !c.waitBackoff(ctx, attempt) {
			c.setState(StateClosed)
			return
		}
		attempt++
	}
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type ackFrame struct {
	Result json.RawMessage `json:"result"`
	ID     *int            `json:"id"`
	Ping   json.RawMessage `json:"ping"`
}

// readLoop consumes frames until the connection fails, returning the
// reconnect attempt counter to carry forward.
func (c *Conn) readLoop(ctx context.Context, ws wsConn, attempt int) int {
	stopHeartbeat := c.startHeartbeat(ws)
	defer stopHeartbeat()

	for {
		if c.stopped(ctx) {
			return attempt
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			if !c.stopped(ctx) {
				c.lgr.Warn("stream read failed",
					logger.String("stream", c.stream),
					logger.Error(err))
				if c.metrics != nil {
					c.metrics.RecordError("read")
				}
			}
			return attempt
		}

		var ack ackFrame
		if json.Unmarshal(data, &ack) == nil {
			if ack.Ping != nil {
				_ = c.writeJSON(ws, map[string]json.RawMessage{"pong": ack.Ping})
				continue
			}
			if ack.ID != nil && *ack.ID == subscribeID {
				if string(ack.Result) == "null" {
					c.setState(StateLive)
					attempt = 0
					c.lgr.Info("stream live", logger.String("stream", c.stream))
					if c.onLive != nil {
						c.onLive()
					}
				} else {
					c.lgr.Error("subscribe rejected",
						logger.String("stream", c.stream),
						logger.String("result", string(ack.Result)))
					if c.metrics != nil {
						c.metrics.RecordError("subscribe")
					}
					return attempt
				}
				continue
			}
		}

		ev, err := c.decode(data)
		if err != nil {
			c.lgr.Debug("undecodable frame",
				logger.String("stream", c.stream),
				logger.Error(err))
			if c.metrics != nil {
				c.metrics.RecordError("decode")
			}
			continue
		}
		if ev == nil {
			continue
		}

		if c.metrics != nil {
			c.metrics.RecordEvent(c.stream)
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return attempt
		case <-ctx.Done():
			return attempt
		}
	}
}

func (c *Conn) startHeartbeat(ws wsConn) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.done:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				_ = ws.WriteMessage(websocket.PingMessage, nil)
				c.writeMu.Unlock()
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }
}

func (c *Conn) writeJSON(ws wsConn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) waitBackoff(ctx context.Context, attempt int) bool {
	delay := Backoff(attempt, c.backoffBase, c.backoffCap)
	c.lgr.Debug("stream backoff",
		logger.String("stream", c.stream),
		logger.Duration("delay", delay),
		logger.Int("attempt", attempt))
	select {
	case <-time.After(delay):
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Conn) stopped(ctx context.Context) bool {
	select {
	case <-c.done:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Close unsubscribes best effort and stops the loop. Safe to call
// more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		_ = c.writeJSON(ws, subscribeRequest{
			Method: "UNSUBSCRIBE",
			Params: []string{c.stream},
			ID:     unsubscribeID,
		})
	}

	close(c.done)
	if ws != nil {
		return ws.Close()
	}
	return nil
}
