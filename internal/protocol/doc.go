// Package protocol owns the minijira wire contract.
//
// Ownership boundary:
// - message kinds and the request/response pairing table
// - typed payloads, one Go type per kind
// - envelope encode/decode over frame primitives (CBOR payloads, optional zstd)
// - protocol-level error types shared by client and server
package protocol
