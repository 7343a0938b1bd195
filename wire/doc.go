// Package wire implements the binary framing used by the mesh transport:
// length-prefixed TLV attachments, authenticated message envelopes,
// combined public-key bundles and the one-byte-typed packet wrapper.
//
// All decoders perform explicit bounds checks at every offset and return
// typed errors instead of reading out of range; no decoder panics on
// attacker-controlled input.
package wire
