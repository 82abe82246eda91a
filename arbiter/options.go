package arbiter

import (
	"log/slog"
	"time"

	"github.com/c360/assetportal/metric"
)

// Defaults chosen so a 2s client heartbeat survives two missed beats before
// the third is declared dead.
const (
	DefaultHeartbeatTimeout = 6 * time.Second
	DefaultSweepInterval    = 2 * time.Second
	DefaultImportBufferCap  = 32
)

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Arbiter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithHeartbeatTimeout sets the liveness threshold after which a silent
// instance is evicted.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(a *Arbiter) {
		if d > 0 {
			a.heartbeatTimeout = d
		}
	}
}

// WithSweepInterval sets how often the eviction sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(a *Arbiter) {
		if d > 0 {
			a.sweepInterval = d
		}
	}
}

// WithImportBufferCap bounds how many import batches are held while no
// instance is active. Zero disables buffering entirely: batches arriving
// with no active instance are dropped and logged.
func WithImportBufferCap(n int) Option {
	return func(a *Arbiter) {
		if n >= 0 {
			a.importBufferCap = n
		}
	}
}

// WithProducerAddr enables the producer endpoint on the given TCP address
// (for example "127.0.0.1:24981"). Empty disables it.
func WithProducerAddr(addr string) Option {
	return func(a *Arbiter) {
		a.producerAddr = addr
	}
}

// WithMetrics attaches coordination metrics. Nil leaves metrics disabled.
func WithMetrics(m *metric.Metrics) Option {
	return func(a *Arbiter) {
		a.metrics = m
	}
}
