// Package client implements the secondary-side coordination state machine
// that runs inside every host-application instance.
//
// A client connects to the well-known arbiter endpoint, registers its pid,
// and heartbeats on a fixed period for as long as the channel lives. Active
// status is never taken automatically: Claim and Release are explicit,
// user- or event-triggered actions. Import batches pushed by the arbiter
// reach the OnImport callback only while the client actually holds active
// status; a batch arriving while passive is logged and ignored as a
// defensive measure against racy deliveries.
//
// Channel loss is not a recoverable error from the client's point of view:
// a restarted arbiter has an empty registry, so the owner must reconnect
// and re-register, typically via the bootstrap package's role
// establishment.
package client
