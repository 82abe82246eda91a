// Package assetportal coordinates multiple instances of a host application
// so that exactly one of them receives asset import data from an external
// producer tool.
//
// # Architecture
//
// The system is brokerless: the first instance to bind the well-known
// endpoint hosts the arbiter, and every other instance connects to it as a
// secondary. The arbiter owns the only authoritative state in the system,
// an in-memory registry of live instances plus the single active
// designation. Losing the arbiter loses that state by design; survivors
// re-establish roles and re-register from scratch.
//
// Packages:
//
//   - protocol: message kinds, payload types, and the JSON wire codec
//   - transport: framed connections over Unix domain sockets, plus an
//     in-memory pipe transport for tests
//   - registry: the arbiter's instance table and active-designation rules
//   - arbiter: the hub serving the coordination endpoint, the liveness
//     sweep, and the producer TCP endpoint
//   - client: the per-instance state machine (heartbeats, claim/release,
//     import delivery)
//   - bootstrap: dial-else-bind role establishment
//   - errors, pkg/retry, metric, health: shared infrastructure
//
// # Coordination model
//
// Instances register with a pid and display name, heartbeat periodically,
// and may claim the active role. Claims are first-writer-wins: while a
// live holder exists, competing claims are refused with an error naming
// the holder. Import payloads arriving from the producer are forwarded
// verbatim to the active instance only; with nobody active they are
// buffered (bounded) for the next claimant.
package assetportal
