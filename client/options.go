package client

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/assetportal/pkg/retry"
	"github.com/c360/assetportal/transport"
)

// DefaultHeartbeatInterval keeps three beats inside the arbiter's default
// 6s liveness threshold.
const DefaultHeartbeatInterval = 2 * time.Second

// DefaultCallTimeout bounds how long a request waits for its reply.
const DefaultCallTimeout = 5 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer overrides how the coordination channel is established. The
// default dials the named Unix socket endpoint.
func WithDialer(dial func(endpoint string) (transport.Conn, error)) Option {
	return func(c *Client) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithHeartbeatInterval sets the liveness signal period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.heartbeatInterval = d
		}
	}
}

// WithCallTimeout bounds how long each request waits for its reply.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithConnectRetry sets the backoff used while establishing the channel.
// The default tries once and reports failure straight to the caller.
func WithConnectRetry(cfg retry.Config) Option {
	return func(c *Client) {
		c.connectRetry = cfg
	}
}

// OnImport registers the handler invoked with each forwarded import batch.
// It is called only while the client holds active status.
func OnImport(fn func(requests []json.RawMessage)) Option {
	return func(c *Client) {
		c.onImport = fn
	}
}

// OnDisconnect registers a callback invoked when the coordination channel
// is lost. The client is already in StateDisconnected when it fires.
func OnDisconnect(fn func(err error)) Option {
	return func(c *Client) {
		c.onDisconnect = fn
	}
}
