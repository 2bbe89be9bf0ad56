// Package protocol owns the wire contract of the rating exchange.
//
// Ownership boundary:
// - message key and action identifiers
// - request/response envelope construction
// - tolerant field accessors over decoded messages
package protocol
