// Package bootstrap decides which process runs the arbiter role. The first
// instance to bind the well-known endpoint becomes the arbiter; every other
// instance connects to it as a secondary. The coordination core itself
// never launches processes; it only needs this capability.
package bootstrap

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/c360/assetportal/errors"
	"github.com/c360/assetportal/pkg/retry"
	"github.com/c360/assetportal/transport"
)

// Role is the outcome of establishment.
type Role int

const (
	// RoleArbiter means this process bound the endpoint and must run the hub.
	RoleArbiter Role = iota
	// RoleSecondary means an arbiter is already serving; connect to it.
	RoleSecondary
)

// String returns the string representation of Role
func (r Role) String() string {
	switch r {
	case RoleArbiter:
		return "arbiter"
	case RoleSecondary:
		return "secondary"
	default:
		return "unknown"
	}
}

// Result carries the established role and exactly one live handle: the
// bound listener for an arbiter, the open connection for a secondary.
type Result struct {
	Role     Role
	Listener transport.Listener
	Conn     transport.Conn
}

// Dialer adapts a secondary Result for client.WithDialer: the first dial
// hands out the already-open bootstrap connection, later dials (after
// channel loss) go through the regular transport.
func (r Result) Dialer() func(endpoint string) (transport.Conn, error) {
	conn := r.Conn
	return func(endpoint string) (transport.Conn, error) {
		if conn != nil {
			first := conn
			conn = nil
			return first, nil
		}
		return transport.Dial(endpoint)
	}
}

// Establish resolves the process's role for the named endpoint.
//
// It dials first: a live arbiter answering means secondary. If nothing
// answers it tries to bind; losing the bind race to another process just
// means an arbiter now exists, so the dial is retried with backoff. Exactly
// one process system-wide ends up holding the listener.
func Establish(ctx context.Context, endpoint string, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var result Result
	err := retry.Do(ctx, retry.Connect(), func() error {
		conn, dialErr := transport.Dial(endpoint)
		if dialErr == nil {
			result = Result{Role: RoleSecondary, Conn: conn}
			return nil
		}
		if !stderrors.Is(dialErr, errors.ErrArbiterUnavailable) {
			return dialErr
		}

		listener, listenErr := transport.Listen(endpoint)
		if listenErr == nil {
			result = Result{Role: RoleArbiter, Listener: listener}
			return nil
		}

		// Lost the bind race: another process just became the arbiter.
		logger.Debug("bind race lost, retrying dial",
			"endpoint", endpoint, "error", listenErr)
		return listenErr
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "bootstrap", "Establish", "resolve role")
	}

	logger.Info("role established", "endpoint", endpoint, "role", result.Role.String())
	return result, nil
}
