// Package stream maintains the websocket session carrying order updates
// from a live broker. The client dials, hands the fresh connection to a
// caller-supplied handshake (authentication and stream selection), and
// then decodes trade_updates frames into orders. Dropped connections are
// redialed with exponential backoff and the handshake is replayed, so a
// reconnect looks to the consumer like a pause, not a restart.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/coachpo/takt/errs"
	"github.com/coachpo/takt/internal/observability"
	"github.com/coachpo/takt/internal/schema"
)

const (
	startTimeout = 10 * time.Second
	writeTimeout = 5 * time.Second
	// updateBuffer absorbs bursts of fills while the consumer is mid-tick.
	updateBuffer = 64
)

// Handshake prepares a freshly dialed connection, typically authenticating
// and subscribing to trade_updates. It runs again after every reconnect.
type Handshake func(ctx context.Context, conn *websocket.Conn) error

// Client owns one order-update websocket session.
type Client struct {
	url       string
	handshake Handshake
	errorChan chan<- error

	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	updates   chan *schema.Order
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithHandshake installs the post-dial handshake.
func WithHandshake(h Handshake) Option {
	return func(c *Client) { c.handshake = h }
}

// WithErrors mirrors connection and decode errors into ch. Sends never
// block; a full channel drops the error after logging it.
func WithErrors(ch chan<- error) Option {
	return func(c *Client) { c.errorChan = ch }
}

// New builds a client for the given websocket URL.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		updates: make(chan *schema.Order, updateBuffer),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start dials in the background and returns once the first session is
// established, or with an error when that takes longer than the start
// timeout.
func (c *Client) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.connect()

	select {
	case <-c.ready:
		return nil
	case <-time.After(startTimeout):
		c.Close()
		return errs.New("stream.start", errs.CodeUnavailable,
			errs.WithMessage("timeout waiting for websocket connection to "+c.url))
	case <-c.ctx.Done():
		return errs.New("stream.start", errs.CodeUnavailable, errs.WithCause(c.ctx.Err()))
	}
}

// Updates delivers decoded order updates. The channel closes after Close
// or when the parent context ends.
func (c *Client) Updates() <-chan *schema.Order { return c.updates }

// Close tears the session down. It is safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
			c.conn = nil
		}
		c.connMu.Unlock()
	})
}

// connect redials until the context ends, replaying the handshake after
// each successful dial.
func (c *Client) connect() {
	defer close(c.updates)
	policy := backoff.NewExponentialBackOff()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.Dial(c.ctx, c.url, nil)
		if err != nil {
			c.reportError(errs.New("stream.dial", errs.CodeUnavailable,
				errs.WithMessage("dial "+c.url),
				errs.WithCause(err)))
			if !c.pause(policy.NextBackOff()) {
				return
			}
			continue
		}
		c.setConn(conn)

		if c.handshake != nil {
			if err := c.handshake(c.ctx, conn); err != nil {
				c.reportError(errs.New("stream.handshake", errs.CodeUnavailable, errs.WithCause(err)))
				_ = conn.Close(websocket.StatusNormalClosure, "handshake failed")
				c.setConn(nil)
				if !c.pause(policy.NextBackOff()) {
					return
				}
				continue
			}
		}

		c.readyOnce.Do(func() { close(c.ready) })
		policy.Reset()
		observability.Log().Info("order update stream connected", observability.String("url", c.url))

		if err := c.readLoop(conn); errors.Is(err, context.Canceled) {
			return
		} else if err != nil {
			c.reportError(err)
		}
		c.setConn(nil)
		observability.Log().Warn("order update stream disconnected", observability.String("url", c.url))

		if !c.pause(policy.NextBackOff()) {
			return
		}
	}
}

// readLoop decodes frames until the connection breaks. Malformed frames
// are reported and skipped; they do not cost the session.
func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return errs.New("stream.read", errs.CodeUnavailable, errs.WithCause(err))
		}
		if msgType != websocket.MessageText {
			continue
		}

		order, ok, err := schema.ParseStream(data)
		if err != nil {
			c.reportError(err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case c.updates <- order:
		case <-c.ctx.Done():
			return context.Canceled
		}
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) pause(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	observability.Log().Warn("order update stream error", observability.Err(err))
	if c.errorChan == nil {
		return
	}
	select {
	case c.errorChan <- err:
	default:
	}
}

// authRequest is the first frame of the session handshake.
type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// listenRequest selects the update streams for the session.
type listenRequest struct {
	Action string     `json:"action"`
	Data   listenData `json:"data"`
}

type listenData struct {
	Streams []string `json:"streams"`
}

// KeyHandshake authenticates with an API key pair and subscribes to
// trade_updates.
func KeyHandshake(key, secret string) Handshake {
	return func(ctx context.Context, conn *websocket.Conn) error {
		if err := writeJSON(ctx, conn, authRequest{Action: "auth", Key: key, Secret: secret}); err != nil {
			return err
		}
		return Listen(ctx, conn, schema.StreamTradeUpdates)
	}
}

// Listen subscribes the connection to the named streams, defaulting to
// trade_updates.
func Listen(ctx context.Context, conn *websocket.Conn, streams ...string) error {
	if len(streams) == 0 {
		streams = []string{schema.StreamTradeUpdates}
	}
	return writeJSON(ctx, conn, listenRequest{Action: "listen", Data: listenData{Streams: streams}})
}

func writeJSON(ctx context.Context, conn *websocket.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errs.New("stream.write", errs.CodeInternal, errs.WithCause(err))
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return errs.New("stream.write", errs.CodeUnavailable, errs.WithCause(err))
	}
	return nil
}
