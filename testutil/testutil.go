// Package testutil provides shared helpers for coordination tests: typed
// protocol exchanges over raw transport connections and condition polling.
package testutil

import (
	"testing"
	"time"

	"github.com/c360/assetportal/protocol"
	"github.com/c360/assetportal/transport"
)

// WaitFor polls cond until it returns true or the timeout expires.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// Send encodes and sends a payload on a raw transport connection.
func Send(t *testing.T, conn transport.Conn, payload protocol.Payload) {
	t.Helper()
	raw, err := protocol.Encode(payload)
	if err != nil {
		t.Fatalf("encode %s: %v", payload.Kind(), err)
	}
	if err := conn.Send(raw); err != nil {
		t.Fatalf("send %s: %v", payload.Kind(), err)
	}
}

// Recv receives and decodes the next payload from a raw transport
// connection, failing the test if nothing arrives within the timeout.
func Recv(t *testing.T, conn transport.Conn, timeout time.Duration) protocol.Payload {
	t.Helper()

	type result struct {
		payload protocol.Payload
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		frame, err := conn.Recv()
		if err != nil {
			ch <- result{err: err}
			return
		}
		payload, err := protocol.Decode(frame)
		ch <- result{payload: payload, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("recv: %v", res.err)
		}
		return res.payload
	case <-time.After(timeout):
		t.Fatalf("no message within %v", timeout)
		return nil
	}
}

// Exchange sends a request and returns the next reply on the connection.
func Exchange(t *testing.T, conn transport.Conn, payload protocol.Payload) protocol.Payload {
	t.Helper()
	Send(t, conn, payload)
	return Recv(t, conn, 2*time.Second)
}
