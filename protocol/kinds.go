package protocol

// Kind identifies a coordination message type on the wire.
type Kind string

// Recognized message kinds. The set is closed; decoding any other value
// fails with errors.ErrUnknownKind.
const (
	KindRegister       Kind = "REGISTER"
	KindUnregister     Kind = "UNREGISTER"
	KindClaimActive    Kind = "CLAIM_ACTIVE"
	KindReleaseActive  Kind = "RELEASE_ACTIVE"
	KindHeartbeat      Kind = "HEARTBEAT"
	KindImportData     Kind = "IMPORT_DATA"
	KindQueryStatus    Kind = "QUERY_STATUS"
	KindStatusResponse Kind = "STATUS_RESPONSE"
	KindAck            Kind = "ACK"
	KindError          Kind = "ERROR"
)

// String returns the wire representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is a recognized message kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRegister, KindUnregister, KindClaimActive, KindReleaseActive,
		KindHeartbeat, KindImportData, KindQueryStatus, KindStatusResponse,
		KindAck, KindError:
		return true
	default:
		return false
	}
}
