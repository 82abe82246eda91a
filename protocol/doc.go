// Package protocol defines the coordination message schema and its wire
// encoding. Every message travels as a UTF-8 JSON envelope with a string
// "type" field naming the kind and an object "data" field carrying that
// kind's payload.
//
// The kind enumeration is closed: each kind has its own payload struct
// carrying only the fields that kind requires, so a missing or mistyped
// field is caught at the type level rather than by probing an open map.
// Unknown fields inside "data" are ignored on decode for forward
// compatibility; an unknown "type" is a typed failure (errors.ErrUnknownKind)
// so the receiving side can reply ERROR and keep serving the connection.
//
// Field names on the wire ("pid", "name", "active_instance",
// "registered_instances", "import_requests", "error", "ack_for",
// "error_for") are part of the wire contract and must not be renamed.
package protocol
