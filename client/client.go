package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/assetportal/errors"
	"github.com/c360/assetportal/pkg/retry"
	"github.com/c360/assetportal/protocol"
	"github.com/c360/assetportal/transport"
)

// Client is one instance's connection to the arbiter.
type Client struct {
	endpoint string
	pid      int
	name     string

	dial              func(endpoint string) (transport.Conn, error)
	logger            *slog.Logger
	heartbeatInterval time.Duration
	callTimeout       time.Duration
	connectRetry      retry.Config
	onImport          func(requests []json.RawMessage)
	onDisconnect      func(err error)

	state atomic.Int32

	mu      sync.Mutex
	conn    transport.Conn
	waiters []chan callResult
	hbStop  chan struct{}
	wg      sync.WaitGroup
}

type callResult struct {
	payload protocol.Payload
	err     error
}

// New creates a client for the given endpoint and instance identity. The
// client does not touch the network until Connect.
func New(endpoint string, pid int, name string, opts ...Option) *Client {
	c := &Client{
		endpoint:          endpoint,
		pid:               pid,
		name:              name,
		dial:              transport.Dial,
		logger:            slog.Default(),
		heartbeatInterval: DefaultHeartbeatInterval,
		callTimeout:       DefaultCallTimeout,
		connectRetry:      retry.Config{MaxAttempts: 1},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("pid", pid, "name", name)
	return c
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// PID returns the instance's process id.
func (c *Client) PID() int {
	return c.pid
}

// Connect establishes the coordination channel, registers the instance,
// and starts the heartbeat. A dial failure is reported as
// errors.ErrArbiterUnavailable so the bootstrap layer can decide whether
// this process should assume the arbiter role instead.
//
// Connect may be called again after channel loss; the arbiter has no
// memory of the previous session, so registration starts over.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.ErrAlreadyStarted
	}
	c.mu.Unlock()

	conn, err := retry.DoWithResult(ctx, c.connectRetry, func() (transport.Conn, error) {
		return c.dial(c.endpoint)
	})
	if err != nil {
		return errors.Wrap(err, "Client", "Connect", "dial arbiter endpoint")
	}

	hbStop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.hbStop = hbStop
	c.mu.Unlock()
	c.state.Store(int32(StateConnected))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop(conn)
	}()

	if err := c.register(ctx); err != nil {
		c.teardown(err)
		return err
	}

	c.state.Store(int32(StatePassive))
	c.logger.Info("registered with arbiter", "endpoint", c.endpoint)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.heartbeatLoop(hbStop)
	}()
	return nil
}

func (c *Client) register(ctx context.Context) error {
	reply, err := c.call(ctx, protocol.Register{PID: c.pid, Name: c.name})
	if err != nil {
		return errors.Wrap(err, "Client", "register", "exchange REGISTER")
	}
	if errMsg, ok := reply.(protocol.Error); ok {
		return errors.WrapInvalid(
			fmt.Errorf("arbiter refused registration: %s", errMsg.Error),
			"Client", "register", "exchange REGISTER")
	}
	return nil
}

// Claim requests active status. On conflict the returned error wraps
// errors.ErrActiveConflict and names the current holder; the caller may
// retry after the holder releases or times out.
func (c *Client) Claim(ctx context.Context) error {
	if s := c.State(); s != StatePassive && s != StateActive {
		return errors.ErrNotStarted
	}

	reply, err := c.call(ctx, protocol.ClaimActive{PID: c.pid, Name: c.name})
	if err != nil {
		return errors.Wrap(err, "Client", "Claim", "exchange CLAIM_ACTIVE")
	}
	if errMsg, ok := reply.(protocol.Error); ok {
		return mapRemoteError(errMsg)
	}

	c.state.Store(int32(StateActive))
	c.logger.Info("active status acquired")
	return nil
}

// Release gives up active status. Releasing while passive succeeds without
// changing anything.
func (c *Client) Release(ctx context.Context) error {
	if s := c.State(); s != StatePassive && s != StateActive {
		return errors.ErrNotStarted
	}

	reply, err := c.call(ctx, protocol.ReleaseActive{PID: c.pid})
	if err != nil {
		return errors.Wrap(err, "Client", "Release", "exchange RELEASE_ACTIVE")
	}
	if errMsg, ok := reply.(protocol.Error); ok {
		return mapRemoteError(errMsg)
	}

	c.state.Store(int32(StatePassive))
	c.logger.Info("active status released")
	return nil
}

// QueryStatus fetches the arbiter's registry snapshot.
func (c *Client) QueryStatus(ctx context.Context) (protocol.StatusResponse, error) {
	reply, err := c.call(ctx, protocol.QueryStatus{PID: c.pid})
	if err != nil {
		return protocol.StatusResponse{}, errors.Wrap(err, "Client", "QueryStatus", "exchange QUERY_STATUS")
	}
	switch r := reply.(type) {
	case protocol.StatusResponse:
		return r, nil
	case protocol.Error:
		return protocol.StatusResponse{}, mapRemoteError(r)
	default:
		return protocol.StatusResponse{}, errors.WrapInvalid(
			fmt.Errorf("unexpected reply kind %s", reply.Kind()),
			"Client", "QueryStatus", "interpret reply")
	}
}

// Close sends a best-effort UNREGISTER and tears the channel down. The
// arbiter's timeout sweep is the backstop if the farewell never arrives.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	if s := c.State(); s == StatePassive || s == StateActive {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if _, err := c.call(ctx, protocol.Unregister{PID: c.pid}); err != nil {
			c.logger.Debug("unregister on close failed", "error", err)
		}
		cancel()
	}

	c.teardown(nil)
	return nil
}

// call sends one request and waits for its reply. The arbiter answers
// requests in arrival order on a connection, so waiters form a FIFO queue.
func (c *Client) call(ctx context.Context, payload protocol.Payload) (protocol.Payload, error) {
	raw, err := protocol.Encode(payload)
	if err != nil {
		return nil, err
	}

	waiter := make(chan callResult, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, errors.ErrConnectionLost
	}
	c.waiters = append(c.waiters, waiter)
	if err := conn.Send(raw); err != nil {
		// The waiter was queued but nothing will answer it; drop it.
		c.dropWaiterLocked(waiter)
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	timeout := time.NewTimer(c.callTimeout)
	defer timeout.Stop()

	select {
	case res := <-waiter:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, errors.WrapTransient(
			fmt.Errorf("no reply within %v", c.callTimeout),
			"Client", "call", "await reply")
	}
}

func (c *Client) dropWaiterLocked(waiter chan callResult) {
	for i, w := range c.waiters {
		if w == waiter {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// readLoop owns the receive side: replies are matched to waiters in FIFO
// order, pushed IMPORT_DATA goes to the import handler.
func (c *Client) readLoop(conn transport.Conn) {
	for {
		frame, err := conn.Recv()
		if err != nil {
			c.channelLost(err)
			return
		}

		payload, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Warn("undecodable message from arbiter", "error", err)
			continue
		}

		switch p := payload.(type) {
		case protocol.ImportData:
			c.handleImport(p)
		case protocol.Ack, protocol.Error, protocol.StatusResponse:
			c.deliverReply(payload)
		default:
			c.logger.Warn("unexpected message kind from arbiter", "kind", payload.Kind().String())
		}
	}
}

func (c *Client) deliverReply(payload protocol.Payload) {
	c.mu.Lock()
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		c.logger.Warn("reply with no outstanding request", "kind", payload.Kind().String())
		return
	}
	waiter := c.waiters[0]
	c.waiters = c.waiters[1:]
	c.mu.Unlock()

	waiter <- callResult{payload: payload}
}

// handleImport acts on forwarded import data only while actually active.
// The arbiter prevents misdirected deliveries by construction, but a batch
// can still race a just-sent release; ignoring it here keeps the protocol
// honest end to end.
func (c *Client) handleImport(batch protocol.ImportData) {
	if c.State() != StateActive {
		c.logger.Warn("import data received while passive, ignoring",
			"records", len(batch.Requests))
		return
	}

	c.logger.Info("import data received", "records", len(batch.Requests))
	if c.onImport != nil {
		c.onImport(batch.Requests)
	}
}

func (c *Client) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
			_, err := c.call(ctx, protocol.Heartbeat{PID: c.pid})
			cancel()
			if err != nil && !stderrors.Is(err, errors.ErrConnectionLost) {
				c.logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

// channelLost handles transport failure: all pending calls fail, the state
// machine drops to Disconnected, and the owner is notified. Reconnection is
// deliberately not automatic; a fresh arbiter requires re-registration.
func (c *Client) channelLost(cause error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	waiters := c.waiters
	c.waiters = nil
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	for _, waiter := range waiters {
		waiter <- callResult{err: errors.ErrConnectionLost}
	}

	c.logger.Warn("coordination channel lost", "error", cause)
	if c.onDisconnect != nil {
		c.onDisconnect(cause)
	}
}

// teardown closes the channel from our side.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	waiters := c.waiters
	c.waiters = nil
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	for _, waiter := range waiters {
		waiter <- callResult{err: errors.ErrConnectionLost}
	}
	if conn != nil {
		conn.Close()
	}
	if cause != nil {
		c.logger.Warn("connection torn down", "error", cause)
	}
	c.wg.Wait()
}

// mapRemoteError converts an ERROR reply back into the local taxonomy so
// callers can test with errors.Is despite the wire carrying only text.
func mapRemoteError(e protocol.Error) error {
	msg := e.Error
	switch {
	case strings.Contains(msg, "active status held by"):
		return fmt.Errorf("%w: %s", errors.ErrActiveConflict, msg)
	case strings.Contains(msg, "not registered"):
		return fmt.Errorf("%w: %s", errors.ErrUnknownInstance, msg)
	default:
		return fmt.Errorf("arbiter error for %s: %s", e.For, msg)
	}
}
