// Package meshcore implements a transport-agnostic secure messaging
// engine for mesh networks.
//
// The engine authenticates peers with a 3-message mutual handshake
// (Noise XX over Curve25519, ChaCha20-Poly1305 and SHA-256), moves
// application payloads over per-session AEAD channels with strict
// replay rejection, queues messages for unreachable peers with bounded
// exponential-backoff retry, and scores peer behavior so abusive peers
// are banned. It never opens a socket: concrete transports (radio, BLE
// bridges, relays) implement the transport.Transport interface and feed
// raw frames in.
//
// # Getting Started
//
// Create an identity, bind it to a transport, and register a message
// callback:
//
//	identity, err := crypto.LoadOrCreateIdentity(store, "identity")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mesh, err := meshcore.New(identity, myTransport, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mesh.Stop()
//
//	mesh.OnMessage(func(peer session.PeerID, payload []byte) {
//	    fmt.Printf("from %s: %s\n", peer, payload)
//	})
//
//	mesh.Start()
//
//	// Sends handshake on demand and queue for offline peers.
//	if err := mesh.Send(peer, []byte("hello")); err != nil {
//	    log.Printf("send: %v", err)
//	}
//
// # Core Types
//
//   - [Mesh]: the engine facade tying identity, sessions, delivery, and
//     reputation together
//   - [Options]: engine configuration (timeouts, intervals, queue and
//     session tuning)
//   - [MessageHandler]: callback for decrypted, replay-checked payloads
//
// Subsystems live in their own packages: wire (framing), noise
// (handshake), session (lifecycle and replay), delivery
// (store-and-forward), reputation (peer scoring), transport (frame
// movement), secrets (key persistence).
package meshcore
