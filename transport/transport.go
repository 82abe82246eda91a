package transport

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/c360/assetportal/errors"
)

// DefaultMaxFrame bounds a single received frame. Import batches are the
// largest messages on the channel and stay well under this in practice.
const DefaultMaxFrame = 8 << 20 // 8 MiB

// frameDelim terminates every frame. Encoded frames are JSON and cannot
// contain a raw newline.
const frameDelim = '\n'

// Conn is one end of a duplex, ordered frame channel. Send is safe for
// concurrent use; Recv must be called from a single goroutine.
type Conn interface {
	// Send writes one frame. The frame must not contain the delimiter.
	Send(frame []byte) error

	// Recv blocks until the next frame arrives or the channel fails.
	// Channel failure is reported as errors.ErrConnectionLost; an oversized
	// frame as errors.ErrFrameTooLarge.
	Recv() ([]byte, error)

	// Close tears down the channel. Blocked Recv calls return.
	Close() error
}

// Listener accepts inbound connections on a named endpoint.
type Listener interface {
	// Accept blocks until the next connection arrives.
	Accept() (Conn, error)

	// Name returns the well-known endpoint name this listener is bound to.
	Name() string

	// Close stops accepting and releases the endpoint.
	Close() error
}

// streamConn frames an underlying byte stream. It is shared by the socket
// and pipe implementations.
type streamConn struct {
	raw      net.Conn
	reader   *bufio.Reader
	maxFrame int

	sendMu  sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func newStreamConn(raw net.Conn, maxFrame int) *streamConn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &streamConn{
		raw:      raw,
		reader:   bufio.NewReader(raw),
		maxFrame: maxFrame,
	}
}

// Send implements Conn. The write mutex lets reply and forward paths share
// one connection without interleaving frames.
func (c *streamConn) Send(frame []byte) error {
	if bytes.IndexByte(frame, frameDelim) >= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("frame contains delimiter byte"),
			"transport", "Send", "validate frame")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, frameDelim)
	if _, err := c.raw.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
	}
	return nil
}

// Recv implements Conn.
func (c *streamConn) Recv() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := c.reader.ReadSlice(frameDelim)
		frame = append(frame, chunk...)

		if len(frame) > c.maxFrame {
			return nil, fmt.Errorf("%w: %d bytes (max %d)",
				errors.ErrFrameTooLarge, len(frame), c.maxFrame)
		}

		switch err {
		case nil:
			return frame[:len(frame)-1], nil
		case bufio.ErrBufferFull:
			continue
		default:
			if err == io.EOF && len(frame) == 0 {
				return nil, fmt.Errorf("%w: peer closed", errors.ErrConnectionLost)
			}
			return nil, fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
		}
	}
}

// Close implements Conn.
func (c *streamConn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.raw.Close()
}
