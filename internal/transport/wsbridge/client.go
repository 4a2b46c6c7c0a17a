// Package wsbridge carries codec envelopes over a websocket, one envelope per
// text message.
package wsbridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradecore/internal/codec"
	"tradecore/internal/model"
	"tradecore/pkg/exception"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultBuffer           = 4096
)

// Config tunes the client side of the bridge.
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout closes the connection when nothing arrives for that long.
	// Zero disables it.
	ReadTimeout time.Duration
	Buffer      int
	Header      http.Header
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	return c
}

// Client is a Transport speaking to a broker gateway over a websocket.
type Client struct {
	cfg    Config
	events chan model.Event
	done   chan struct{}

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	closed  bool
	once    sync.Once
}

// NewClient creates an unconnected client.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		events: make(chan model.Event, cfg.Buffer),
		done:   make(chan struct{}),
	}
}

// Connect dials endpoint, a ws:// or wss:// url, and starts reading.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.Wrap(exception.ErrConnectionLost, "websocket client already disconnected")
	}
	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, c.cfg.Header)
	if err != nil {
		return errors.Wrapf(err, "dial %s", endpoint)
	}
	c.conn = conn
	logs.Infof("wsbridge: connected to %s", endpoint)
	go c.readLoop(conn)
	return nil
}

// Send encodes req and writes it as one message.
func (c *Client) Send(ctx context.Context, req model.Request) error {
	if req == nil {
		return exception.ErrNilInstance
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return exception.ErrNotConnected
	}

	payload, err := codec.EncodeRequest(req)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrapf(err, "write %s request", req.RequestKind())
	}
	return nil
}

func (c *Client) Events() <-chan model.Event {
	return c.events
}

// Disconnect closes the socket. The event channel closes once the reader
// exits. It is idempotent.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	if c.conn == nil {
		c.closeEvents()
		return nil
	}

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout))
	c.writeMu.Unlock()
	return c.conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.closeEvents()

	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				logs.Errorf("wsbridge: read, err: %+v", err)
				c.publish(model.DisconnectedEvent{Reason: err.Error()})
			}
			_ = conn.Close()
			return
		}
		if !c.publish(codec.DecodeEventOrReport(msg)) {
			_ = conn.Close()
			return
		}
	}
}

func (c *Client) publish(ev model.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) closeEvents() {
	c.once.Do(func() { close(c.events) })
}
