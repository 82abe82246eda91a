package transport

import (
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/c360/assetportal/errors"
)

// EndpointPath resolves a well-known endpoint name to a socket path. The
// runtime directory is preferred so sockets vanish with the login session;
// the system temp directory is the fallback.
func EndpointPath(name string) string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, name+".sock")
	}
	return filepath.Join(os.TempDir(), name+".sock")
}

// socketListener wraps a bound Unix domain socket.
type socketListener struct {
	name string
	path string
	ln   net.Listener
}

// Listen binds the named endpoint. A leftover socket file from a crashed
// arbiter is removed and rebound, but only after confirming nothing answers
// on it.
func Listen(name string) (Listener, error) {
	path := EndpointPath(name)

	ln, err := net.Listen("unix", path)
	if err != nil {
		if !isAddrInUse(err) {
			return nil, errors.WrapTransient(err, "transport", "Listen", "bind endpoint")
		}

		// Address in use: live arbiter or stale file. Probe before stealing.
		if probe, dialErr := net.Dial("unix", path); dialErr == nil {
			probe.Close()
			return nil, errors.WrapTransient(
				fmt.Errorf("endpoint %s already served", name),
				"transport", "Listen", "bind endpoint")
		}

		if rmErr := os.Remove(path); rmErr != nil {
			return nil, errors.WrapTransient(rmErr, "transport", "Listen", "remove stale socket")
		}
		ln, err = net.Listen("unix", path)
		if err != nil {
			return nil, errors.WrapTransient(err, "transport", "Listen", "rebind endpoint")
		}
	}

	return &socketListener{name: name, path: path, ln: ln}, nil
}

// Accept implements Listener.
func (l *socketListener) Accept() (Conn, error) {
	raw, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
	}
	return newStreamConn(raw, DefaultMaxFrame), nil
}

// Name implements Listener.
func (l *socketListener) Name() string {
	return l.name
}

// Close implements Listener. The socket file is removed so the next arbiter
// can bind cleanly.
func (l *socketListener) Close() error {
	err := l.ln.Close()
	os.Remove(l.path)
	return err
}

// Dial connects to the named endpoint. Failure to connect means no arbiter
// is serving it and is reported as errors.ErrArbiterUnavailable so the
// bootstrap layer can decide on promotion.
func Dial(name string) (Conn, error) {
	raw, err := net.Dial("unix", EndpointPath(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrArbiterUnavailable, name, err)
	}
	return newStreamConn(raw, DefaultMaxFrame), nil
}

func isAddrInUse(err error) bool {
	return stderrors.Is(err, syscall.EADDRINUSE)
}
