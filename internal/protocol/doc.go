// Package protocol owns the call envelopes exchanged between a contract
// client and a contract host.
//
// Ownership boundary:
// - request/response shapes and their codec registration
// - framed read/write of envelopes on stream and message transports
// - frame/header primitives (subpackage frame)
package protocol
