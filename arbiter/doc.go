// Package arbiter implements the coordination hub: the single process that
// owns the instance registry and the active-instance designation, accepts
// connections on the named coordination endpoint, and forwards producer
// import batches to whichever instance currently holds active status.
//
// Each accepted connection is served by its own goroutine. All mutations of
// the shared registry go through its single lock, so register, claim,
// release, and eviction are linearizable; the lock is never held across
// channel I/O. A periodic sweep evicts instances whose heartbeats have gone
// stale, bounding the lifetime of crashed peers even when they never sent
// UNREGISTER.
//
// Per-message failures are recovered at the connection boundary: a frame
// that cannot be decoded produces an ERROR reply and the connection keeps
// serving. Only transport-level failures end a connection, and they count
// as an implicit UNREGISTER for the pid last registered on it.
//
// Import batches arriving while no instance is active are held in a bounded
// FIFO buffer and flushed to the next granted claimant; on overflow the
// oldest batch is dropped and logged, never silently.
package arbiter
