// Package wire defines the CBOR wire format of the address-space service.
//
// Messages are CBOR (RFC 8949) maps with integer keys, carried in
// length-prefixed frames (see package transport).
//
// # Message Types
//
//   - Request: client to server (Read, Write, Browse)
//   - Response: server to client, correlated by message ID
//
// Payloads are embedded as raw CBOR and decoded lazily into the
// operation-specific types (WritePayload, ReadResult, BrowseResult,
// ErrorPayload).
package wire
