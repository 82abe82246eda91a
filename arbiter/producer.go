package arbiter

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/c360/assetportal/errors"
)

// producerMaxLine bounds one producer delivery, matching the coordination
// channel's frame cap.
const producerMaxLine = 8 << 20

// producerEndpoint is the separate local TCP listener on which the external
// producer tool delivers raw import-request payloads, one newline-terminated
// document per delivery. Payload content is opaque: records are wrapped into
// IMPORT_DATA without modification.
type producerEndpoint struct {
	arbiter *Arbiter
	ln      net.Listener
}

func newProducerEndpoint(a *Arbiter, addr string) (*producerEndpoint, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.WrapTransient(err, "producerEndpoint", "listen", "bind producer port")
	}
	return &producerEndpoint{arbiter: a, ln: ln}, nil
}

func (p *producerEndpoint) addr() string {
	return p.ln.Addr().String()
}

func (p *producerEndpoint) run(ctx context.Context) {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				p.arbiter.monitor.UpdateUnhealthy("producer", "accept failed")
				p.arbiter.logger.Error("producer accept failed", "error", err)
			}
			return
		}

		p.arbiter.wg.Add(1)
		go func() {
			defer p.arbiter.wg.Done()
			p.serve(conn)
		}()
	}
}

func (p *producerEndpoint) serve(conn net.Conn) {
	defer conn.Close()
	logger := p.arbiter.logger.With("producer_remote", conn.RemoteAddr().String())
	logger.Info("producer connected")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), producerMaxLine)

	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		p.arbiter.ForwardImport(wrapRecords(line))
	}

	if err := scanner.Err(); err != nil {
		logger.Warn("producer connection failed", "error", err)
		return
	}
	logger.Info("producer disconnected")
}

// close stops the endpoint's listener.
func (p *producerEndpoint) close() {
	p.ln.Close()
}

// wrapRecords turns one producer delivery into the import_requests list. A
// JSON array is split into its elements; any other JSON document becomes a
// single-record batch. Non-JSON bytes are preserved verbatim as a JSON
// string so nothing the producer sends is ever altered or lost.
func wrapRecords(line []byte) []json.RawMessage {
	if json.Valid(line) {
		trimmed := firstByte(line)
		if trimmed == '[' {
			var records []json.RawMessage
			if err := json.Unmarshal(line, &records); err == nil {
				return records
			}
		}
		return []json.RawMessage{json.RawMessage(line)}
	}

	quoted, err := json.Marshal(string(line))
	if err != nil {
		// Invalid UTF-8 still marshals (replacement runes); this is
		// unreachable in practice.
		return nil
	}
	return []json.RawMessage{json.RawMessage(quoted)}
}

func firstByte(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}
