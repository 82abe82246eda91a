package protocol

import (
	"encoding/json"
	"fmt"
)

// Payload is the closed union of coordination message payloads. Each
// recognized kind has exactly one implementing struct carrying that kind's
// required fields.
type Payload interface {
	// Kind returns the message kind this payload belongs to.
	Kind() Kind

	// Validate checks that required fields are present and well-formed.
	Validate() error
}

// InstanceInfo identifies a registered instance in status responses.
type InstanceInfo struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
}

// Register announces an instance to the arbiter. Re-registering a known
// pid refreshes its record.
type Register struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
}

// Kind implements Payload.
func (Register) Kind() Kind { return KindRegister }

// Validate implements Payload.
func (p Register) Validate() error { return requirePID(p.PID, KindRegister) }

// Unregister removes an instance from the arbiter's registry.
type Unregister struct {
	PID int `json:"pid"`
}

// Kind implements Payload.
func (Unregister) Kind() Kind { return KindUnregister }

// Validate implements Payload.
func (p Unregister) Validate() error { return requirePID(p.PID, KindUnregister) }

// ClaimActive requests active status for the sending instance.
type ClaimActive struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
}

// Kind implements Payload.
func (ClaimActive) Kind() Kind { return KindClaimActive }

// Validate implements Payload.
func (p ClaimActive) Validate() error { return requirePID(p.PID, KindClaimActive) }

// ReleaseActive gives up active status. Releasing while not active is a
// no-op success.
type ReleaseActive struct {
	PID int `json:"pid"`
}

// Kind implements Payload.
func (ReleaseActive) Kind() Kind { return KindReleaseActive }

// Validate implements Payload.
func (p ReleaseActive) Validate() error { return requirePID(p.PID, KindReleaseActive) }

// Heartbeat is the periodic liveness signal from an instance.
type Heartbeat struct {
	PID int `json:"pid"`
}

// Kind implements Payload.
func (Heartbeat) Kind() Kind { return KindHeartbeat }

// Validate implements Payload.
func (p Heartbeat) Validate() error { return requirePID(p.PID, KindHeartbeat) }

// ImportData carries a batch of import-request records from the arbiter to
// the active instance. The records are opaque to the coordinator and are
// passed through exactly as delivered by the producer.
type ImportData struct {
	Requests []json.RawMessage `json:"import_requests"`
}

// Kind implements Payload.
func (ImportData) Kind() Kind { return KindImportData }

// Validate implements Payload.
func (ImportData) Validate() error { return nil }

// QueryStatus asks the arbiter for the current registry snapshot.
type QueryStatus struct {
	PID int `json:"pid"`
}

// Kind implements Payload.
func (QueryStatus) Kind() Kind { return KindQueryStatus }

// Validate implements Payload.
func (QueryStatus) Validate() error { return nil }

// StatusResponse reports the active instance (nil when none) and all
// registered instances, sorted by pid.
type StatusResponse struct {
	Active     *InstanceInfo  `json:"active_instance"`
	Registered []InstanceInfo `json:"registered_instances"`
}

// Kind implements Payload.
func (StatusResponse) Kind() Kind { return KindStatusResponse }

// Validate implements Payload.
func (StatusResponse) Validate() error { return nil }

// Ack is the success reply. For optionally names the kind being acknowledged.
type Ack struct {
	For Kind `json:"ack_for,omitempty"`
}

// Kind implements Payload.
func (Ack) Kind() Kind { return KindAck }

// Validate implements Payload.
func (Ack) Validate() error { return nil }

// Error is the failure reply. For optionally names the kind that caused it.
type Error struct {
	Error string `json:"error"`
	For   Kind   `json:"error_for,omitempty"`
}

// Kind implements Payload.
func (Error) Kind() Kind { return KindError }

// Validate implements Payload.
func (p Error) Validate() error {
	if p.Error == "" {
		return fmt.Errorf("%s: missing error description", KindError)
	}
	return nil
}

func requirePID(pid int, kind Kind) error {
	if pid <= 0 {
		return fmt.Errorf("%s: pid must be positive, got %d", kind, pid)
	}
	return nil
}
