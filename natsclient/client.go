// Package natsclient wraps the NATS connection lifecycle for the snapshot
// store: connect with sane defaults, expose JetStream KV buckets, drain on
// close. Connection events are logged, never fatal; the storage layer
// classifies the resulting errors.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/ada52/SyConn/errors"
)

// Client manages a NATS connection and its JetStream context
type Client struct {
	url    string
	opts   clientOptions
	logger *slog.Logger

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream
}

type clientOptions struct {
	name          string
	timeout       time.Duration
	maxReconnects int
	reconnectWait time.Duration
}

// Option configures a Client
type Option func(*clientOptions)

// WithName sets the connection name shown in NATS monitoring
func WithName(name string) Option {
	return func(o *clientOptions) { o.name = name }
}

// WithTimeout sets the dial timeout
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithMaxReconnects sets the reconnect attempt cap. Zero disables
// reconnects entirely.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) { o.maxReconnects = n }
}

// NewClient creates an unconnected client for the given server URL
func NewClient(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "server url is empty")
	}
	o := clientOptions{
		name:          "syconn",
		timeout:       5 * time.Second,
		maxReconnects: 10,
		reconnectWait: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{url: url, opts: o, logger: slog.Default()}, nil
}

// Connect dials the server and initializes JetStream
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	natsOpts := []nats.Option{
		nats.Name(c.opts.name),
		nats.Timeout(c.opts.timeout),
		nats.MaxReconnects(c.opts.maxReconnects),
		nats.ReconnectWait(c.opts.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("nats connection closed")
		}),
	}

	conn, err := nats.Connect(c.url, natsOpts...)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "dial nats server")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return errors.WrapFatal(err, "Client", "Connect", "initialize jetstream")
	}

	c.conn = conn
	c.js = js
	c.logger.Info("nats connected", "url", conn.ConnectedUrl())
	return nil
}

// IsHealthy reports whether the connection is up
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// GetConnection returns the underlying NATS connection, nil before Connect
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// CreateKeyValueBucket creates or opens a KV bucket
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "Client", "CreateKeyValueBucket", "client is not connected")
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket", "create bucket "+cfg.Bucket)
	}
	return kv, nil
}

// GetKeyValueBucket opens an existing KV bucket
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()
	if js == nil {
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "Client", "GetKeyValueBucket", "client is not connected")
	}

	kv, err := js.KeyValue(ctx, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket", "open bucket "+name)
	}
	return kv, nil
}

// Close drains and closes the connection
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.conn.Drain() }()
	select {
	case err := <-done:
		c.conn = nil
		c.js = nil
		if err != nil {
			return errors.WrapTransient(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-ctx.Done():
		c.conn.Close()
		c.conn = nil
		c.js = nil
		return errors.WrapTransient(ctx.Err(), "Client", "Close", "drain timed out")
	}
}
