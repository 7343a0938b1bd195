// Package noise implements the mutual-authentication handshake used by the
// mesh transport: the Noise XX message plan over Curve25519, ChaCha20-
// Poly1305 and SHA-256 (protocol name Noise_XX_25519_ChaChaPoly_SHA256).
//
// The implementation is deliberately self-contained rather than a
// general-purpose pattern library: it drives exactly one pattern, exposes
// the running transcript hash and chaining key lifecycle the session layer
// depends on, and destroys all accumulated state on any out-of-order or
// malformed message so a partial handshake can never be resumed.
//
// Wire compatibility with the standard pattern is verified in the package
// tests by running both roles against github.com/flynn/noise.
package noise
