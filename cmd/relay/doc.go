// Package main runs the in-memory HTTP relay for parley. It publishes users'
// public keys and queues encrypted envelopes for recipients until they fetch
// and acknowledge them.
//
// HTTP API
//
//	POST /register {"username": U, "publicKey": SPKI}
//	    Publish U's RSA public key and return a bearer token. Re-registering
//	    an existing name requires that name's token and replaces the key.
//
//	GET /keys/{user}
//	    Return the published public key for {user}, or 404.
//
//	POST /msg/{user}
//	    Enqueue an Envelope destined to {user}. Requires the sender's token.
//	    The server fills in a missing id and timestamp (Unix milliseconds).
//
//	GET /msg/{user}?limit=N
//	    Return up to N queued Envelopes for {user} without removing them.
//
//	POST /msg/{user}/ack {"count": N}
//	    Drop the first N queued envelopes for {user}.
//
//	GET /ws/{user}
//	    Websocket stream of {"pending": N} notices whenever {user}'s queue
//	    changes.
//
//	GET /metrics
//	    Prometheus metrics.
//
// Behaviour
//
//   - All state is held in memory and lost on process exit.
//   - Responses are JSON. Non-2xx statuses carry a short error message.
//   - Each request is logged at DEBUG with method, path, status and duration.
//   - The default listen address is 127.0.0.1:8080.
//
// The relay never sees plaintext or private keys; it only stores ciphertext,
// wrapped conversation keys and public keys.
package main
