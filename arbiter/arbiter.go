package arbiter

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/assetportal/errors"
	"github.com/c360/assetportal/health"
	"github.com/c360/assetportal/metric"
	"github.com/c360/assetportal/protocol"
	"github.com/c360/assetportal/registry"
	"github.com/c360/assetportal/transport"
)

// Arbiter is the coordination hub. It is the sole writer of the registry
// and the single source of truth for which instance is active.
type Arbiter struct {
	listener transport.Listener
	reg      *registry.Registry
	logger   *slog.Logger
	metrics  *metric.Metrics
	monitor  *health.Monitor

	heartbeatTimeout time.Duration
	sweepInterval    time.Duration
	importBufferCap  int
	producerAddr     string

	// pending holds import batches that arrived with no active instance.
	pendingMu sync.Mutex
	pending   []protocol.ImportData

	// conns tracks open connections so Stop can tear them down.
	connsMu sync.Mutex
	conns   map[transport.Conn]struct{}

	lifecycleMu sync.Mutex
	started     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	producer    *producerEndpoint
}

// New creates an arbiter serving the given coordination listener.
func New(listener transport.Listener, opts ...Option) *Arbiter {
	a := &Arbiter{
		listener:         listener,
		reg:              registry.New(),
		logger:           slog.Default(),
		monitor:          health.NewMonitor(),
		heartbeatTimeout: DefaultHeartbeatTimeout,
		sweepInterval:    DefaultSweepInterval,
		importBufferCap:  DefaultImportBufferCap,
		conns:            make(map[transport.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the accept loop, the eviction sweep, and, when configured,
// the producer endpoint. It returns once everything is running.
func (a *Arbiter) Start(ctx context.Context) error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if a.started {
		return errors.ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.producerAddr != "" {
		producer, err := newProducerEndpoint(a, a.producerAddr)
		if err != nil {
			cancel()
			return errors.Wrap(err, "Arbiter", "Start", "bind producer endpoint")
		}
		a.producer = producer
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			producer.run(runCtx)
		}()
		a.monitor.UpdateHealthy("producer", "listening")
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.acceptLoop(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		a.sweepLoop(runCtx)
	}()

	a.monitor.UpdateHealthy("listener", "accepting connections")
	a.monitor.UpdateHealthy("sweep", "running")
	a.started = true
	a.logger.Info("arbiter started",
		"endpoint", a.listener.Name(),
		"heartbeat_timeout", a.heartbeatTimeout,
		"sweep_interval", a.sweepInterval)
	return nil
}

// Stop tears down the listener, all open connections, and the background
// goroutines. The registry is discarded with the arbiter; a restarted
// arbiter starts empty and all instances must re-register.
func (a *Arbiter) Stop() error {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	if !a.started {
		return errors.ErrNotStarted
	}
	a.started = false

	a.cancel()
	a.listener.Close()
	if a.producer != nil {
		a.producer.close()
	}

	a.connsMu.Lock()
	for conn := range a.conns {
		conn.Close()
	}
	a.connsMu.Unlock()

	a.wg.Wait()
	a.logger.Info("arbiter stopped")
	return nil
}

// Health returns the aggregate health of the arbiter's subsystems.
func (a *Arbiter) Health() health.Status {
	return a.monitor.AggregateHealth("arbiter")
}

// Monitor exposes the health monitor for HTTP mounting.
func (a *Arbiter) Monitor() *health.Monitor {
	return a.monitor
}

// Status returns the current registry snapshot, for diagnostics.
func (a *Arbiter) Status() protocol.StatusResponse {
	return a.statusResponse()
}

// PendingImports reports how many import batches are buffered awaiting an
// active instance.
func (a *Arbiter) PendingImports() int {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	return len(a.pending)
}

// ProducerAddr returns the bound producer endpoint address, or empty when
// the endpoint is disabled. Useful when the configured port was ephemeral.
func (a *Arbiter) ProducerAddr() string {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()
	if a.producer == nil {
		return ""
	}
	return a.producer.addr()
}

func (a *Arbiter) acceptLoop(ctx context.Context) {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.monitor.UpdateUnhealthy("listener", "accept failed")
			a.logger.Error("accept failed", "error", err)
			return
		}

		a.connsMu.Lock()
		a.conns[conn] = struct{}{}
		open := len(a.conns)
		a.connsMu.Unlock()
		if a.metrics != nil {
			a.metrics.ConnectionsOpen.Set(float64(open))
		}

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.serveConn(conn)
		}()
	}
}

// sweepLoop is the liveness backstop: it periodically evicts instances
// whose heartbeats have gone stale, independent of connection handlers.
func (a *Arbiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *Arbiter) sweep() {
	evicted, activeCleared := a.reg.EvictStale(a.heartbeatTimeout)
	if len(evicted) == 0 {
		return
	}

	for _, inst := range evicted {
		a.logger.Warn("instance evicted after heartbeat timeout",
			"pid", inst.PID,
			"name", inst.Name,
			"last_heartbeat", inst.LastHeartbeat)
		if conn, ok := inst.Conn.(transport.Conn); ok && conn != nil {
			conn.Close()
		}
	}
	if activeCleared {
		a.logger.Warn("active designation cleared by eviction")
	}

	if a.metrics != nil {
		a.metrics.EvictionsTotal.Add(float64(len(evicted)))
		a.metrics.RecordInstanceCount(a.reg.Len())
		if activeCleared {
			a.metrics.RecordActive(false)
		}
	}
}

// ForwardImport wraps producer records as IMPORT_DATA and delivers the
// batch solely to the active instance's connection. With no active
// instance, the batch is buffered (bounded) for the next claimant.
func (a *Arbiter) ForwardImport(requests []json.RawMessage) {
	batch := protocol.ImportData{Requests: requests}

	active, ok := a.reg.Active()
	if !ok {
		a.bufferImport(batch)
		return
	}

	if err := a.sendImport(active, batch); err != nil {
		a.logger.Warn("import delivery failed, buffering batch",
			"pid", active.PID, "error", err)
		a.bufferImport(batch)
	}
}

func (a *Arbiter) sendImport(active registry.Instance, batch protocol.ImportData) error {
	conn, ok := active.Conn.(transport.Conn)
	if !ok || conn == nil {
		return errors.ErrConnectionLost
	}

	raw, err := protocol.Encode(batch)
	if err != nil {
		return err
	}
	if err := conn.Send(raw); err != nil {
		return err
	}

	a.logger.Debug("import batch forwarded",
		"pid", active.PID, "records", len(batch.Requests))
	if a.metrics != nil {
		a.metrics.ImportsForwarded.Inc()
	}
	return nil
}

func (a *Arbiter) bufferImport(batch protocol.ImportData) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()

	if a.importBufferCap == 0 {
		a.logger.Warn("no active instance, import batch dropped",
			"records", len(batch.Requests))
		if a.metrics != nil {
			a.metrics.ImportsDropped.Inc()
		}
		return
	}

	if len(a.pending) >= a.importBufferCap {
		dropped := a.pending[0]
		a.pending = a.pending[1:]
		a.logger.Warn("import buffer full, oldest batch dropped",
			"records", len(dropped.Requests), "capacity", a.importBufferCap)
		if a.metrics != nil {
			a.metrics.ImportsDropped.Inc()
		}
	}

	a.pending = append(a.pending, batch)
	a.logger.Info("no active instance, import batch buffered",
		"records", len(batch.Requests), "buffered", len(a.pending))
	if a.metrics != nil {
		a.metrics.ImportsBuffered.Set(float64(len(a.pending)))
	}
}

// flushPending delivers buffered batches to the newly active instance, in
// arrival order. Called after a claim is granted.
func (a *Arbiter) flushPending() {
	a.pendingMu.Lock()
	batches := a.pending
	a.pending = nil
	a.pendingMu.Unlock()

	if len(batches) == 0 {
		return
	}
	if a.metrics != nil {
		a.metrics.ImportsBuffered.Set(0)
	}

	active, ok := a.reg.Active()
	if !ok {
		// Claimant vanished between grant and flush; re-buffer.
		for _, batch := range batches {
			a.bufferImport(batch)
		}
		return
	}

	for i, batch := range batches {
		if err := a.sendImport(active, batch); err != nil {
			a.logger.Warn("flush interrupted, re-buffering remaining batches",
				"pid", active.PID, "error", err)
			for _, rest := range batches[i:] {
				a.bufferImport(rest)
			}
			return
		}
	}
	a.logger.Info("buffered imports flushed", "pid", active.PID, "batches", len(batches))
}

func (a *Arbiter) statusResponse() protocol.StatusResponse {
	instances, active := a.reg.Snapshot()

	resp := protocol.StatusResponse{
		Registered: make([]protocol.InstanceInfo, 0, len(instances)),
	}
	for _, inst := range instances {
		resp.Registered = append(resp.Registered, protocol.InstanceInfo{
			PID:  inst.PID,
			Name: inst.Name,
		})
	}
	if active != nil {
		resp.Active = &protocol.InstanceInfo{PID: active.PID, Name: active.Name}
	}
	return resp
}
