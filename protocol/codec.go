package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/c360/assetportal/errors"
)

// envelope is the wire form of every message: the kind under "type" and the
// kind-specific payload under "data".
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes a payload into its wire envelope. It succeeds for any
// well-formed payload; the only failure mode is an ImportData record that is
// not itself valid JSON.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "Encode", "marshal payload")
	}

	raw, err := json.Marshal(envelope{Type: string(p.Kind()), Data: data})
	if err != nil {
		return nil, errors.WrapInvalid(err, "protocol", "Encode", "marshal envelope")
	}
	return raw, nil
}

// Decode parses a wire envelope back into its typed payload.
//
// Failures are typed so the caller can reply ERROR and keep serving:
//   - errors.ErrMalformedEncoding when the bytes are not a valid envelope
//     or the payload does not match the kind's schema
//   - errors.ErrUnknownKind when "type" is not a recognized kind
//
// Unknown fields inside "data" are ignored, not rejected.
func Decode(raw []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedEncoding, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type field", errors.ErrMalformedEncoding)
	}

	kind := Kind(env.Type)
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownKind, env.Type)
	}

	// A missing or null data object decodes as the kind's zero payload.
	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}

	payload := newPayload(kind)
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", errors.ErrMalformedEncoding, kind, err)
	}
	return deref(payload), nil
}

// newPayload returns a pointer to the zero payload for the kind, suitable
// as an unmarshal target.
func newPayload(kind Kind) Payload {
	switch kind {
	case KindRegister:
		return &Register{}
	case KindUnregister:
		return &Unregister{}
	case KindClaimActive:
		return &ClaimActive{}
	case KindReleaseActive:
		return &ReleaseActive{}
	case KindHeartbeat:
		return &Heartbeat{}
	case KindImportData:
		return &ImportData{}
	case KindQueryStatus:
		return &QueryStatus{}
	case KindStatusResponse:
		return &StatusResponse{}
	case KindAck:
		return &Ack{}
	case KindError:
		return &Error{}
	default:
		// Unreachable: Decode rejects unknown kinds before dispatching here.
		panic(fmt.Sprintf("protocol: no payload for kind %q", kind))
	}
}

// deref returns the value form of a decoded payload so callers can switch
// on concrete types without pointer/value ambiguity.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *Register:
		return *v
	case *Unregister:
		return *v
	case *ClaimActive:
		return *v
	case *ReleaseActive:
		return *v
	case *Heartbeat:
		return *v
	case *ImportData:
		return *v
	case *QueryStatus:
		return *v
	case *StatusResponse:
		return *v
	case *Ack:
		return *v
	case *Error:
		return *v
	default:
		return p
	}
}
