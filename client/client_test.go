package client_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/assetportal/arbiter"
	"github.com/c360/assetportal/client"
	"github.com/c360/assetportal/errors"
	"github.com/c360/assetportal/testutil"
	"github.com/c360/assetportal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness runs a real arbiter over an in-memory listener and hands out
// clients wired to it through WithDialer.
type harness struct {
	arbiter  *arbiter.Arbiter
	listener *transport.PipeListener
}

func newHarness(t *testing.T, opts ...arbiter.Option) *harness {
	t.Helper()

	ln := transport.NewPipeListener("client-test")
	base := []arbiter.Option{
		arbiter.WithLogger(discardLogger()),
		arbiter.WithSweepInterval(25 * time.Millisecond),
		arbiter.WithHeartbeatTimeout(150 * time.Millisecond),
	}
	a := arbiter.New(ln, append(base, opts...)...)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop() })

	return &harness{arbiter: a, listener: ln}
}

func (h *harness) newClient(t *testing.T, pid int, name string, opts ...client.Option) *client.Client {
	t.Helper()

	base := []client.Option{
		client.WithLogger(discardLogger()),
		client.WithDialer(func(string) (transport.Conn, error) {
			return h.listener.Connect(), nil
		}),
		client.WithHeartbeatInterval(30 * time.Millisecond),
		client.WithCallTimeout(2 * time.Second),
	}
	return client.New("client-test", pid, name, append(base, opts...)...)
}

func connect(t *testing.T, c *client.Client) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
}

func TestConnectRegistersAndGoesPassive(t *testing.T) {
	h := newHarness(t)

	c := h.newClient(t, 100, "A")
	assert.Equal(t, client.StateDisconnected, c.State())

	connect(t, c)
	assert.Equal(t, client.StatePassive, c.State())

	status, err := c.QueryStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.Active)
	require.Len(t, status.Registered, 1)
	assert.Equal(t, 100, status.Registered[0].PID)
	assert.Equal(t, "A", status.Registered[0].Name)
}

func TestConnectTwiceFails(t *testing.T) {
	h := newHarness(t)

	c := h.newClient(t, 100, "A")
	connect(t, c)
	assert.ErrorIs(t, c.Connect(context.Background()), errors.ErrAlreadyStarted)
}

func TestClaimAndRelease(t *testing.T) {
	h := newHarness(t)

	c := h.newClient(t, 100, "A")
	connect(t, c)

	require.NoError(t, c.Claim(context.Background()))
	assert.Equal(t, client.StateActive, c.State())

	// Re-claiming while already active is a no-op.
	require.NoError(t, c.Claim(context.Background()))
	assert.Equal(t, client.StateActive, c.State())

	require.NoError(t, c.Release(context.Background()))
	assert.Equal(t, client.StatePassive, c.State())

	// Releasing while passive also succeeds.
	require.NoError(t, c.Release(context.Background()))
	assert.Equal(t, client.StatePassive, c.State())
}

func TestClaimConflictNamesHolder(t *testing.T) {
	h := newHarness(t)

	holder := h.newClient(t, 100, "A")
	connect(t, holder)
	require.NoError(t, holder.Claim(context.Background()))

	rival := h.newClient(t, 200, "B")
	connect(t, rival)

	err := rival.Claim(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrActiveConflict)
	assert.Contains(t, err.Error(), "100", "conflict error should name the holder")
	assert.Equal(t, client.StatePassive, rival.State())

	// After the holder releases, the rival's retry succeeds.
	require.NoError(t, holder.Release(context.Background()))
	require.NoError(t, rival.Claim(context.Background()))
	assert.Equal(t, client.StateActive, rival.State())
}

func TestClaimBeforeConnect(t *testing.T) {
	h := newHarness(t)

	c := h.newClient(t, 100, "A")
	assert.ErrorIs(t, c.Claim(context.Background()), errors.ErrNotStarted)
	assert.ErrorIs(t, c.Release(context.Background()), errors.ErrNotStarted)
}

func TestImportCallbackWhileActive(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]json.RawMessage
	)
	h := newHarness(t)

	c := h.newClient(t, 100, "A", client.OnImport(func(requests []json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		batches = append(batches, requests)
	}))
	connect(t, c)
	require.NoError(t, c.Claim(context.Background()))

	record := json.RawMessage(`{"asset":"granite_boulder"}`)
	go h.arbiter.ForwardImport([]json.RawMessage{record})

	testutil.WaitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, "active client should receive the forwarded batch")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches[0], 1)
	assert.JSONEq(t, string(record), string(batches[0][0]))
}

func TestHeartbeatsKeepInstanceAlive(t *testing.T) {
	h := newHarness(t)

	c := h.newClient(t, 100, "A")
	connect(t, c)
	require.NoError(t, c.Claim(context.Background()))

	// Several sweep intervals pass the eviction threshold; heartbeats must
	// keep the instance registered and active throughout.
	time.Sleep(400 * time.Millisecond)

	status, err := c.QueryStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status.Active)
	assert.Equal(t, 100, status.Active.PID)
	assert.Equal(t, client.StateActive, c.State())
}

func TestCloseUnregisters(t *testing.T) {
	h := newHarness(t)

	c := h.newClient(t, 100, "A")
	connect(t, c)
	require.NoError(t, c.Close())
	assert.Equal(t, client.StateDisconnected, c.State())

	status := h.arbiter.Status()
	assert.Empty(t, status.Registered, "close should unregister the instance")
}

func TestArbiterStopDisconnectsClient(t *testing.T) {
	h := newHarness(t)

	lost := make(chan error, 1)
	c := h.newClient(t, 100, "A", client.OnDisconnect(func(err error) {
		lost <- err
	}))
	connect(t, c)

	require.NoError(t, h.arbiter.Stop())

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not invoked after arbiter stop")
	}
	assert.Equal(t, client.StateDisconnected, c.State())

	// Calls on a lost channel fail fast.
	err := c.Claim(context.Background())
	assert.ErrorIs(t, err, errors.ErrNotStarted)
	_, err = c.QueryStatus(context.Background())
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
}

func TestDialFailureReported(t *testing.T) {
	c := client.New("nobody-home", 100, "A",
		client.WithLogger(discardLogger()),
		client.WithDialer(func(string) (transport.Conn, error) {
			return nil, errors.ErrArbiterUnavailable
		}))

	err := c.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrArbiterUnavailable)
	assert.Equal(t, client.StateDisconnected, c.State())
}
