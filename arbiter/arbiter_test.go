package arbiter_test

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
	"github.com/c360/assetportal/protocol"
	"github.com/c360/assetportal/testutil"
	"github.com/c360/assetportal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startArbiter(t *testing.T, opts ...arbiter.Option) (*arbiter.Arbiter, *transport.PipeListener) {
	t.Helper()

	// The default threshold is generous so tests that do not heartbeat are
	// never evicted mid-assertion; liveness tests override it.
	ln := transport.NewPipeListener("coordination-test")
	base := []arbiter.Option{
		arbiter.WithLogger(discardLogger()),
		arbiter.WithSweepInterval(25 * time.Millisecond),
		arbiter.WithHeartbeatTimeout(time.Minute),
	}
	a := arbiter.New(ln, append(base, opts...)...)

	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop() })
	return a, ln
}

func register(t *testing.T, conn transport.Conn, pid int, name string) {
	t.Helper()
	reply := testutil.Exchange(t, conn, protocol.Register{PID: pid, Name: name})
	require.Equal(t, protocol.Ack{For: protocol.KindRegister}, reply)
}

// Scenario A from the coordination design: claims are refused while a live
// holder exists and transfer only through explicit release.
func TestClaimReleaseTransfer(t *testing.T) {
	_, ln := startArbiter(t)

	connA := ln.Connect()
	defer connA.Close()
	connB := ln.Connect()
	defer connB.Close()

	register(t, connA, 100, "A")
	register(t, connB, 200, "B")

	reply := testutil.Exchange(t, connA, protocol.ClaimActive{PID: 100, Name: "A"})
	assert.Equal(t, protocol.Ack{For: protocol.KindClaimActive}, reply)

	reply = testutil.Exchange(t, connB, protocol.ClaimActive{PID: 200, Name: "B"})
	errReply, ok := reply.(protocol.Error)
	require.True(t, ok, "competing claim must be refused, got %T", reply)
	assert.Equal(t, protocol.KindClaimActive, errReply.For)
	assert.Contains(t, errReply.Error, "100", "refusal must name the current holder")

	reply = testutil.Exchange(t, connA, protocol.ReleaseActive{PID: 100})
	assert.Equal(t, protocol.Ack{For: protocol.KindReleaseActive}, reply)

	reply = testutil.Exchange(t, connB, protocol.ClaimActive{PID: 200, Name: "B"})
	assert.Equal(t, protocol.Ack{For: protocol.KindClaimActive}, reply)
}

// Scenario B: status reports the active instance and a pid-sorted snapshot.
func TestQueryStatus(t *testing.T) {
	_, ln := startArbiter(t)

	connA := ln.Connect()
	defer connA.Close()
	connB := ln.Connect()
	defer connB.Close()

	register(t, connB, 200, "B")
	register(t, connA, 100, "A")
	require.Equal(t,
		protocol.Ack{For: protocol.KindClaimActive},
		testutil.Exchange(t, connA, protocol.ClaimActive{PID: 100, Name: "A"}))

	reply := testutil.Exchange(t, connB, protocol.QueryStatus{PID: 200})
	status, ok := reply.(protocol.StatusResponse)
	require.True(t, ok, "expected STATUS_RESPONSE, got %T", reply)

	require.NotNil(t, status.Active)
	assert.Equal(t, protocol.InstanceInfo{PID: 100, Name: "A"}, *status.Active)
	assert.Equal(t, []protocol.InstanceInfo{
		{PID: 100, Name: "A"},
		{PID: 200, Name: "B"},
	}, status.Registered)
}

// Scenario C: import data reaches only the active instance's connection.
func TestImportForwardedOnlyToActive(t *testing.T) {
	a, ln := startArbiter(t)

	connA := ln.Connect()
	defer connA.Close()
	connB := ln.Connect()
	defer connB.Close()

	register(t, connA, 100, "A")
	register(t, connB, 200, "B")
	require.Equal(t,
		protocol.Ack{For: protocol.KindClaimActive},
		testutil.Exchange(t, connA, protocol.ClaimActive{PID: 100, Name: "A"}))

	// Delivery to the active connection is synchronous, so forward
	// concurrently with the receive.
	record := json.RawMessage(`{"asset":"granite_boulder"}`)
	go a.ForwardImport([]json.RawMessage{record})

	payload := testutil.Recv(t, connA, 2*time.Second)
	batch, ok := payload.(protocol.ImportData)
	require.True(t, ok, "active connection should receive IMPORT_DATA, got %T", payload)
	require.Len(t, batch.Requests, 1)
	assert.JSONEq(t, string(record), string(batch.Requests[0]))

	// The passive connection sees nothing; its next message is the reply to
	// its own query, not a stray import.
	reply := testutil.Exchange(t, connB, protocol.QueryStatus{PID: 200})
	_, isStatus := reply.(protocol.StatusResponse)
	assert.True(t, isStatus, "passive connection must not receive import data, got %T", reply)
}

// Scenario D: a vanished active instance is cleaned up and the designation
// cleared without promoting anyone.
func TestDisconnectClearsActive(t *testing.T) {
	a, ln := startArbiter(t)

	connA := ln.Connect()
	connB := ln.Connect()
	defer connB.Close()

	register(t, connA, 100, "A")
	register(t, connB, 200, "B")
	require.Equal(t,
		protocol.Ack{For: protocol.KindClaimActive},
		testutil.Exchange(t, connA, protocol.ClaimActive{PID: 100, Name: "A"}))

	// No UNREGISTER: the peer just dies.
	connA.Close()

	testutil.WaitFor(t, 2*time.Second, func() bool {
		status := a.Status()
		return status.Active == nil && len(status.Registered) == 1
	}, "dead active instance should be removed and the designation cleared")

	reply := testutil.Exchange(t, connB, protocol.QueryStatus{PID: 200})
	status, ok := reply.(protocol.StatusResponse)
	require.True(t, ok)
	assert.Nil(t, status.Active)
	require.Len(t, status.Registered, 1)
	assert.Equal(t, 200, status.Registered[0].PID)
}

// The timeout sweep is the backstop for peers that hang without closing
// their connection.
func TestHeartbeatTimeoutEviction(t *testing.T) {
	a, ln := startArbiter(t, arbiter.WithHeartbeatTimeout(120*time.Millisecond))

	connA := ln.Connect()
	defer connA.Close()
	connB := ln.Connect()
	defer connB.Close()

	register(t, connA, 100, "A")
	require.Equal(t,
		protocol.Ack{For: protocol.KindClaimActive},
		testutil.Exchange(t, connA, protocol.ClaimActive{PID: 100, Name: "A"}))
	register(t, connB, 200, "B")

	// Keep B alive while A goes silent.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(40 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				raw, _ := protocol.Encode(protocol.Heartbeat{PID: 200})
				if connB.Send(raw) != nil {
					return
				}
				if _, err := connB.Recv(); err != nil {
					return
				}
			}
		}
	}()

	testutil.WaitFor(t, 2*time.Second, func() bool {
		status := a.Status()
		if status.Active != nil {
			return false
		}
		for _, inst := range status.Registered {
			if inst.PID == 100 {
				return false
			}
		}
		return true
	}, "silent instance should be evicted within threshold plus sweep interval")

	status := a.Status()
	require.Len(t, status.Registered, 1)
	assert.Equal(t, 200, status.Registered[0].PID)
}

// Two racing claims produce exactly one ACK and one refusal.
func TestConcurrentClaimsMutualExclusion(t *testing.T) {
	_, ln := startArbiter(t)

	connA := ln.Connect()
	defer connA.Close()
	connB := ln.Connect()
	defer connB.Close()

	register(t, connA, 100, "A")
	register(t, connB, 200, "B")

	replies := make(chan protocol.Payload, 2)
	var wg sync.WaitGroup
	for _, tc := range []struct {
		conn transport.Conn
		pid  int
		name string
	}{
		{connA, 100, "A"},
		{connB, 200, "B"},
	} {
		wg.Add(1)
		go func(conn transport.Conn, pid int, name string) {
			defer wg.Done()
			raw, _ := protocol.Encode(protocol.ClaimActive{PID: pid, Name: name})
			if err := conn.Send(raw); err != nil {
				return
			}
			frame, err := conn.Recv()
			if err != nil {
				return
			}
			payload, err := protocol.Decode(frame)
			if err != nil {
				return
			}
			replies <- payload
		}(tc.conn, tc.pid, tc.name)
	}
	wg.Wait()
	close(replies)

	var acks, refusals int
	for reply := range replies {
		switch reply.(type) {
		case protocol.Ack:
			acks++
		case protocol.Error:
			refusals++
		}
	}
	assert.Equal(t, 1, acks, "exactly one claim may be granted")
	assert.Equal(t, 1, refusals, "the losing claim must be refused")
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	_, ln := startArbiter(t)

	conn := ln.Connect()
	defer conn.Close()

	require.NoError(t, conn.Send([]byte("this is not a message")))
	reply := testutil.Recv(t, conn, 2*time.Second)
	errReply, ok := reply.(protocol.Error)
	require.True(t, ok, "garbage should be answered with ERROR, got %T", reply)
	assert.NotEmpty(t, errReply.Error)

	// The connection survives and keeps serving.
	register(t, conn, 100, "A")
}

func TestUnknownKindKeepsConnection(t *testing.T) {
	_, ln := startArbiter(t)

	conn := ln.Connect()
	defer conn.Close()

	require.NoError(t, conn.Send([]byte(`{"type":"PROMOTE_SELF","data":{}}`)))
	reply := testutil.Recv(t, conn, 2*time.Second)
	errReply, ok := reply.(protocol.Error)
	require.True(t, ok)
	assert.Contains(t, errReply.Error, "PROMOTE_SELF")

	register(t, conn, 100, "A")
}

func TestClaimFromUnregisteredPid(t *testing.T) {
	_, ln := startArbiter(t)

	conn := ln.Connect()
	defer conn.Close()

	reply := testutil.Exchange(t, conn, protocol.ClaimActive{PID: 999, Name: "ghost"})
	errReply, ok := reply.(protocol.Error)
	require.True(t, ok, "claim without registration must be refused, got %T", reply)
	assert.Equal(t, protocol.KindClaimActive, errReply.For)
	assert.Contains(t, errReply.Error, "not registered")
}

func TestHeartbeatImplicitReregistration(t *testing.T) {
	_, ln := startArbiter(t)

	conn := ln.Connect()
	defer conn.Close()

	reply := testutil.Exchange(t, conn, protocol.Heartbeat{PID: 300})
	assert.Equal(t, protocol.Ack{For: protocol.KindHeartbeat}, reply)

	status := testutil.Exchange(t, conn, protocol.QueryStatus{PID: 300}).(protocol.StatusResponse)
	require.Len(t, status.Registered, 1)
	assert.Equal(t, 300, status.Registered[0].PID)
	assert.Equal(t, "unknown", status.Registered[0].Name)
}

func TestReregisterRefreshesRecord(t *testing.T) {
	_, ln := startArbiter(t)

	conn := ln.Connect()
	defer conn.Close()

	register(t, conn, 100, "A")
	register(t, conn, 100, "A-renamed")

	status := testutil.Exchange(t, conn, protocol.QueryStatus{PID: 100}).(protocol.StatusResponse)
	require.Len(t, status.Registered, 1)
	assert.Equal(t, "A-renamed", status.Registered[0].Name)
}

func TestUnregisterIdempotent(t *testing.T) {
	_, ln := startArbiter(t)

	conn := ln.Connect()
	defer conn.Close()

	// Unregistering a pid the arbiter never saw still succeeds.
	reply := testutil.Exchange(t, conn, protocol.Unregister{PID: 12345})
	assert.Equal(t, protocol.Ack{For: protocol.KindUnregister}, reply)
}

func TestImportBufferedUntilClaim(t *testing.T) {
	a, ln := startArbiter(t)

	record := json.RawMessage(`{"asset":"mossy_log"}`)
	a.ForwardImport([]json.RawMessage{record})

	conn := ln.Connect()
	defer conn.Close()
	register(t, conn, 100, "A")
	require.Equal(t,
		protocol.Ack{For: protocol.KindClaimActive},
		testutil.Exchange(t, conn, protocol.ClaimActive{PID: 100, Name: "A"}))

	payload := testutil.Recv(t, conn, 2*time.Second)
	batch, ok := payload.(protocol.ImportData)
	require.True(t, ok, "buffered import should flush to the new claimant, got %T", payload)
	require.Len(t, batch.Requests, 1)
	assert.JSONEq(t, string(record), string(batch.Requests[0]))
}

func TestImportBufferOverflowDropsOldest(t *testing.T) {
	a, ln := startArbiter(t, arbiter.WithImportBufferCap(2))

	for _, asset := range []string{"first", "second", "third"} {
		a.ForwardImport([]json.RawMessage{json.RawMessage(`{"asset":"` + asset + `"}`)})
	}

	conn := ln.Connect()
	defer conn.Close()
	register(t, conn, 100, "A")
	require.Equal(t,
		protocol.Ack{For: protocol.KindClaimActive},
		testutil.Exchange(t, conn, protocol.ClaimActive{PID: 100, Name: "A"}))

	var assets []string
	for i := 0; i < 2; i++ {
		batch := testutil.Recv(t, conn, 2*time.Second).(protocol.ImportData)
		var record struct {
			Asset string `json:"asset"`
		}
		require.NoError(t, json.Unmarshal(batch.Requests[0], &record))
		assets = append(assets, record.Asset)
	}
	assert.Equal(t, []string{"second", "third"}, assets,
		"overflow drops the oldest batch, survivors flush in order")
}

func TestImportDroppedWhenBufferingDisabled(t *testing.T) {
	a, ln := startArbiter(t, arbiter.WithImportBufferCap(0))

	a.ForwardImport([]json.RawMessage{json.RawMessage(`{"asset":"lost"}`)})

	conn := ln.Connect()
	defer conn.Close()
	register(t, conn, 100, "A")
	require.Equal(t,
		protocol.Ack{For: protocol.KindClaimActive},
		testutil.Exchange(t, conn, protocol.ClaimActive{PID: 100, Name: "A"}))

	// Nothing was buffered; the next message on the wire is the status
	// reply, not an import.
	reply := testutil.Exchange(t, conn, protocol.QueryStatus{PID: 100})
	_, isStatus := reply.(protocol.StatusResponse)
	assert.True(t, isStatus)
}

func TestDoubleStartAndStop(t *testing.T) {
	ln := transport.NewPipeListener("lifecycle-test")
	a := arbiter.New(ln, arbiter.WithLogger(discardLogger()))

	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()))
	require.NoError(t, a.Stop())
	assert.Error(t, a.Stop())
}
