// Package natsclient wraps the NATS connection used by the gateway for
// flow persistence (JetStream KV) and flow execution (request/reply).
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HongGunKR/CoE-Backend/errors"
	"github.com/HongGunKR/CoE-Backend/pkg/retry"
)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithLogger sets the logger used for connection lifecycle events
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithName sets the connection name reported to the NATS server
func WithName(name string) ClientOption {
	return func(c *Client) {
		c.name = name
	}
}

// WithReconnectWait sets the delay between reconnect attempts
func WithReconnectWait(wait time.Duration) ClientOption {
	return func(c *Client) {
		c.reconnectWait = wait
	}
}

// Client manages a NATS connection with reconnect handling and exposes
// the request/reply and JetStream KV operations the gateway needs.
type Client struct {
	url           string
	name          string
	reconnectWait time.Duration
	logger        *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewClient creates a client for the given NATS URL. Connect must be
// called before any operation.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "natsclient", "NewClient", "url cannot be empty")
	}

	c := &Client{
		url:           url,
		name:          "coe-backend",
		reconnectWait: 2 * time.Second,
		logger:        slog.Default().With("component", "natsclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the configured server URL
func (c *Client) URL() string {
	return c.url
}

// Connect establishes the connection, retrying transient failures until
// the context is cancelled or the retry budget is exhausted.
func (c *Client) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
	}

	conn, err := retry.DoWithResult(ctx, retry.Persistent(), func() (*nats.Conn, error) {
		return nats.Connect(c.url, opts...)
	})
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Connect", "connect to NATS")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "natsclient", "Connect", "create JetStream context")
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()

	c.logger.Info("NATS connected", "url", conn.ConnectedUrl())
	return nil
}

// GetConnection returns the raw connection, or nil when not connected
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// IsConnected reports whether the underlying connection is usable
func (c *Client) IsConnected() bool {
	conn := c.GetConnection()
	return conn != nil && conn.IsConnected()
}

// Request sends a request and waits for a reply within timeout
func (c *Client) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	conn := c.GetConnection()
	if conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "natsclient", "Request", "not connected")
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := conn.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return nil, errors.WrapTransient(err, "natsclient", "Request", "request to "+subject)
	}
	return msg.Data, nil
}

// CreateKeyValueBucket creates or opens a JetStream KV bucket
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if js == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "natsclient", "CreateKeyValueBucket", "not connected")
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "natsclient", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}
	return bucket, nil
}

// Close drains and closes the connection
func (c *Client) Close(_ context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.WrapTransient(err, "natsclient", "Close", "drain connection")
	}
	return nil
}
