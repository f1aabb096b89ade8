package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5

	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

var ErrNotConnected = errors.New("realtime: not connected")

// TokenSource supplies the bearer token for each dial.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Client dials the realtime endpoint and keeps redialling after a drop.
type Client struct {
	url         string
	tokens      TokenSource
	bus         *Bus
	dialer      *websocket.Dialer
	interval    time.Duration
	maxAttempts int
	log         zerolog.Logger

	mu     sync.Mutex // guards conn and connID, serializes writes
	conn   *websocket.Conn
	connID string

	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Client)

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

func WithReconnectInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithMaxReconnectAttempts caps consecutive failed dials.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func New(url string, tokens TokenSource, bus *Bus, options ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("[realtime New] url is required")
	}
	if bus == nil {
		return nil, errors.New("[realtime New] bus is required")
	}
	c := &Client{
		url:         url,
		tokens:      tokens,
		bus:         bus,
		dialer:      websocket.DefaultDialer,
		interval:    DefaultReconnectInterval,
		maxAttempts: DefaultMaxReconnectAttempts,
		log:         zerolog.Nop(),
		done:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Run connects and pumps events into the bus until ctx ends or Close is
// called, both of which return nil. After maxAttempts consecutive failed
// dials it gives up with ErrMaxReconnectAttempts. A successful connection
// resets the count.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		conn, err := c.dial(ctx)
		if c.stopped(ctx) {
			if conn != nil {
				_ = conn.Close()
			}
			return nil
		}
		if err != nil {
			failures++
			c.log.Warn().Err(err).Int("attempt", failures).Int("max", c.maxAttempts).Msg("realtime dial failed")
			if failures >= c.maxAttempts {
				return errors.Wrapf(apperrors.ErrMaxReconnectAttempts, "[realtime Run] after %d attempts", failures)
			}
		} else {
			failures = 0
			c.readLoop(ctx, conn)
			if c.stopped(ctx) {
				return nil
			}
		}

		select {
		case <-time.After(c.interval):
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		}
	}
}

// Close stops Run and drops the current connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return c.conn.Close()
}

// Send writes one event to the server.
func (c *Client) Send(eventType string, data any) error {
	ev := Event{Type: eventType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return errors.Wrap(err, "[realtime Send] encode data")
		}
		ev.Data = raw
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return errors.Wrap(err, "[realtime Send]")
	}
	return errors.Wrap(c.conn.WriteJSON(ev), "[realtime Send]")
}

// ConnectionID identifies the live connection, "" when disconnected.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-c.done:
		return true
	default:
		return ctx.Err() != nil
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.tokens != nil {
		tok, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "reading access token")
		}
		if tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	connID := uuid.NewString()
	header.Set("X-Connection-ID", connID)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: status %d", c.url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", c.url)
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	c.conn = conn
	c.connID = connID
	c.mu.Unlock()
	c.log.Info().Str("conn_id", connID).Msg("realtime connected")
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
			c.connID = ""
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.stopped(ctx) {
				c.log.Warn().Err(err).Msg("realtime connection dropped")
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Warn().Err(err).Msg("invalid realtime event")
			continue
		}
		c.bus.Publish(ev)
	}
}
