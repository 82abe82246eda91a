// Package registry holds the arbiter's authoritative view of running host
// instances and the single active instance designation.
//
// The registry is exclusively owned and mutated by the arbiter. One mutex
// guards every mutation, so register, claim, release, and eviction are
// linearizable: the active pid, when set, always references a currently
// registered instance, and no interleaving of operations can break that.
// Critical sections cover only in-memory updates, never I/O.
package registry
