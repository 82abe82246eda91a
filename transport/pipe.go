package transport

import (
	"net"
	"sync"
)

// Pipe returns two connected in-memory channel ends with the same framing
// behavior as the socket transport. Intended for tests that exercise the
// arbiter and client without touching the filesystem.
func Pipe() (Conn, Conn) {
	a, b := net.Pipe()
	return newStreamConn(a, DefaultMaxFrame), newStreamConn(b, DefaultMaxFrame)
}

// PipeListener is an in-memory Listener. Connections are created by calling
// Connect, which hands one pipe end to the next Accept call and returns the
// other.
type PipeListener struct {
	name      string
	conns     chan Conn
	done      chan struct{}
	closeOnce sync.Once
}

// NewPipeListener returns an in-memory listener for the named endpoint.
func NewPipeListener(name string) *PipeListener {
	return &PipeListener{
		name:  name,
		conns: make(chan Conn),
		done:  make(chan struct{}),
	}
}

// Connect establishes a new connection pair and returns the client end. It
// blocks until the listener accepts the server end or is closed.
func (l *PipeListener) Connect() Conn {
	server, client := Pipe()
	select {
	case l.conns <- server:
	case <-l.done:
		server.Close()
		client.Close()
	}
	return client
}

// Accept implements Listener.
func (l *PipeListener) Accept() (Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Name implements Listener.
func (l *PipeListener) Name() string {
	return l.name
}

// Close implements Listener.
func (l *PipeListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}
