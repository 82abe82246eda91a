package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/c360/assetportal/errors"
)

// UnknownName is recorded when a heartbeat implicitly re-registers an
// instance whose registration record was lost.
const UnknownName = "unknown"

// Instance is one registered host-application process.
type Instance struct {
	PID           int
	Name          string
	RegisteredAt  time.Time
	LastHeartbeat time.Time

	// Conn is the opaque connection handle owned by the arbiter. The
	// registry never touches it; it rides along so eviction and forwarding
	// can find the right channel.
	Conn any
}

// Registry is the pid-keyed instance table plus the active designation.
// All methods are safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	instances map[int]*Instance
	activePID int // 0 when no instance is active

	// now is swappable for liveness tests.
	now func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		instances: make(map[int]*Instance),
		now:       time.Now,
	}
}

// Register inserts or refreshes the instance record for pid. Re-registering
// a known pid is idempotent: the record is refreshed in place and the
// original registration time preserved. It returns true when the pid was
// already registered.
func (r *Registry) Register(pid int, name string, conn any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.instances[pid]; ok {
		existing.Name = name
		existing.LastHeartbeat = now
		existing.Conn = conn
		return true
	}

	r.instances[pid] = &Instance{
		PID:           pid,
		Name:          name,
		RegisteredAt:  now,
		LastHeartbeat: now,
		Conn:          conn,
	}
	return false
}

// Unregister removes the instance. If it held active status the designation
// is cleared; no replacement is promoted. Unknown pids are a no-op. It
// reports whether the pid was registered and whether it was active.
func (r *Registry) Unregister(pid int) (removed, wasActive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[pid]; !ok {
		return false, false
	}
	delete(r.instances, pid)

	if r.activePID == pid {
		r.activePID = 0
		return true, true
	}
	return true, false
}

// UnregisterConn removes the instance only if its record still references
// the given connection handle. A peer that disconnected after the same pid
// re-registered on a fresh connection must not evict the new registration.
func (r *Registry) UnregisterConn(pid int, conn any) (removed, wasActive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[pid]
	if !ok || inst.Conn != conn {
		return false, false
	}
	delete(r.instances, pid)

	if r.activePID == pid {
		r.activePID = 0
		return true, true
	}
	return true, false
}

// Heartbeat refreshes the liveness timestamp for pid. An unknown pid is
// implicitly re-registered under UnknownName rather than dropped: a live
// heartbeat always wins over a lost registration record. It reports whether
// the pid was already known.
func (r *Registry) Heartbeat(pid int, conn any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if inst, ok := r.instances[pid]; ok {
		inst.LastHeartbeat = now
		return true
	}

	r.instances[pid] = &Instance{
		PID:           pid,
		Name:          UnknownName,
		RegisteredAt:  now,
		LastHeartbeat: now,
		Conn:          conn,
	}
	return false
}

// Claim grants active status to pid. The claim succeeds when no instance is
// active, when the recorded active pid is no longer registered (stale), or
// when pid already holds it (no-op success). A claim while a different live
// instance is active fails with ActiveConflictError naming the holder;
// first writer wins, there is no priority scheme. A claim from an
// unregistered pid fails with ErrUnknownInstance.
//
// A non-empty name refreshes the claimant's display name, healing records
// created by implicit heartbeat re-registration.
func (r *Registry) Claim(pid int, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	claimant, ok := r.instances[pid]
	if !ok {
		return errors.ErrUnknownInstance
	}
	claimant.LastHeartbeat = r.now()
	if name != "" {
		claimant.Name = name
	}

	if r.activePID == pid {
		return nil
	}

	if holder, live := r.instances[r.activePID]; r.activePID != 0 && live {
		return &errors.ActiveConflictError{HolderPID: holder.PID, HolderName: holder.Name}
	}

	// Unset or stale: grant.
	r.activePID = pid
	return nil
}

// Release clears active status if pid currently holds it. Releasing while
// not active is a no-op success.
func (r *Registry) Release(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[pid]
	if ok {
		inst.LastHeartbeat = r.now()
	}
	if r.activePID == pid {
		r.activePID = 0
	}
}

// Active returns a copy of the active instance, if one is designated.
func (r *Registry) Active() (Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[r.activePID]
	if r.activePID == 0 || !ok {
		return Instance{}, false
	}
	return *inst, true
}

// Snapshot returns copies of all registered instances sorted by pid, plus
// the active instance if set. Both are taken under one lock acquisition so
// the pair is consistent.
func (r *Registry) Snapshot() (instances []Instance, active *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances = make([]Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		instances = append(instances, *inst)
	}
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].PID < instances[j].PID
	})

	if inst, ok := r.instances[r.activePID]; r.activePID != 0 && ok {
		copied := *inst
		active = &copied
	}
	return instances, active
}

// EvictStale removes every instance whose last heartbeat is older than
// threshold. Eviction follows the unregister rule: an evicted active
// instance clears the designation without promoting a replacement. It
// returns the evicted instances and whether the active designation was
// cleared.
func (r *Registry) EvictStale(threshold time.Duration) (evicted []Instance, activeCleared bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-threshold)
	for pid, inst := range r.instances {
		if inst.LastHeartbeat.Before(cutoff) {
			evicted = append(evicted, *inst)
			delete(r.instances, pid)
			if r.activePID == pid {
				r.activePID = 0
				activeCleared = true
			}
		}
	}
	return evicted, activeCleared
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// checkInvariant reports whether the active pid, when set, references a
// registered instance. Exposed for tests.
func (r *Registry) checkInvariant() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activePID == 0 {
		return true
	}
	_, ok := r.instances[r.activePID]
	return ok
}
