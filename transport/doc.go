// Package transport provides the local coordination channel: a duplex,
// ordered, reliable byte-stream endpoint addressed by a well-known name.
//
// The production implementation is a Unix domain socket under the host's
// runtime directory. Frames are newline-terminated; encoded messages are
// JSON, which escapes literal newlines inside strings, so the delimiter can
// never collide with payload bytes. An in-memory pipe implementation with
// identical framing semantics backs the package tests.
//
// The transport knows nothing about the coordination protocol. It moves
// opaque frames; the arbiter and client layers own encoding and semantics.
package transport
