// Package crypto implements the cryptographic primitives for the mesh
// transport: Curve25519 key agreement pairs, Ed25519 identity/signing keys,
// AEAD cipher channels with strictly owned nonce counters, and secure
// wiping of key material.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto
