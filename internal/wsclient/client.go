// Package wsclient is a reconnecting client for the lobby websocket, used by health checks and
// load tools.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/park285/matey-server/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

var ErrNotConnected = errors.New("websocket not connected")

// Frame is one server message. Unicast events carry Type; broadcasts carry Topic.
type Frame struct {
	Type    string          `json:"type,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Code    string          `json:"code,omitempty"`
	GameID  string          `json:"gameId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

type FrameFunc func(Frame)

type StateFunc func(State)

// Client keeps one connection to url open, redialing with backoff up to maxAttempts times
// after a failure.
type Client struct {
	url         string
	header      http.Header
	maxAttempts int

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	cbMu     sync.RWMutex
	onFrame  []FrameFunc
	onState  []StateFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	pingInterval time.Duration
	backoff      func(attempt int) time.Duration
}

type Option func(*Client)

// WithHeader adds handshake headers, e.g. Authorization.
func WithHeader(h http.Header) Option { return func(c *Client) { c.header = h.Clone() } }

func WithPingInterval(d time.Duration) Option { return func(c *Client) { c.pingInterval = d } }

func WithBackoff(f func(attempt int) time.Duration) Option {
	return func(c *Client) { c.backoff = f }
}

func New(url string, maxAttempts int, opts ...Option) *Client {
	c := &Client{
		url:          url,
		header:       http.Header{},
		maxAttempts:  maxAttempts,
		state:        StateDisconnected,
		stopCh:       make(chan struct{}),
		pingInterval: 30 * time.Second,
		backoff:      backoffDuration,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) OnFrame(f FrameFunc) {
	c.cbMu.Lock()
	c.onFrame = append(c.onFrame, f)
	c.cbMu.Unlock()
}

func (c *Client) OnState(f StateFunc) {
	c.cbMu.Lock()
	c.onState = append(c.onState, f)
	c.cbMu.Unlock()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials once. Later failures are retried in the background.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateFailed)
		return err
	}
	c.attach(conn)
	return nil
}

// Send writes v as one JSON text frame.
func (c *Client) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return wsjson.Write(ctx, conn, v)
}

// Close stops reconnecting and closes the connection, waiting for the loops up to ctx.
func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.closeConn(websocket.StatusNormalClosure, "close")

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.header,
	})
	return conn, err
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.stopping() {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "close")
		return
	}
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	ctx, cancel := context.WithCancel(context.Background())
	c.wg.Add(2)
	go c.listen(ctx, cancel, conn)
	go c.pingLoop(ctx, conn)
}

func (c *Client) listen(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer c.wg.Done()
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if c.stopping() {
				return
			}
			obslog.L().Debug("wsclient_read_error", zap.Error(err))
			c.closeConn(websocket.StatusGoingAway, "reconnect")
			c.reconnect()
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			obslog.L().Debug("wsclient_bad_frame", zap.Error(err))
			continue
		}
		f.Raw = data

		c.cbMu.RLock()
		cbs := append([]FrameFunc(nil), c.onFrame...)
		c.cbMu.RUnlock()
		for _, cb := range cbs {
			cb(f)
		}
	}
}

// pingLoop closes the connection after two missed pongs; listen then reconnects.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			if failures++; failures >= 2 {
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (c *Client) reconnect() {
	if c.maxAttempts <= 0 {
		c.setState(StateDisconnected)
		return
	}
	c.setState(StateReconnecting)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for attempt := 1; attempt <= c.maxAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(c.backoff(attempt)):
			}
			conn, err := c.dial(context.Background())
			if err != nil {
				obslog.L().Debug("wsclient_redial_error", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			c.attach(conn)
			return
		}
		c.setState(StateFailed)
	}()
}

func (c *Client) closeConn(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(code, reason)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()

	c.cbMu.RLock()
	cbs := append([]StateFunc(nil), c.onState...)
	c.cbMu.RUnlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (c *Client) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func backoffDuration(attempt int) time.Duration {
	const maxBackoff = 5 * time.Second
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		return maxBackoff
	}
	return min(200*time.Millisecond<<(attempt-1), maxBackoff)
}
