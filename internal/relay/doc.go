// Package relay implements both ends of the Parley relay: the HTTP client
// satisfying domain.RelayClient, and an in-memory Server.
//
// The relay is the backend and the transport at once. It keeps a directory
// of published public keys and a FIFO queue of envelopes per user. It never
// sees plaintext or conversation keys; envelopes are stored and forwarded as
// the JSON the sender produced.
//
// Routes:
//   - POST /register         publish a public key, receive a bearer token
//   - GET  /keys/{user}      look up a published public key
//   - POST /msg/{user}       queue an envelope (sender's token)
//   - GET  /msg/{user}       list queued envelopes (recipient's token)
//   - POST /msg/{user}/ack   drop the first n queued envelopes
//   - GET  /ws/{user}        websocket stream of {"pending": n} notices
//   - GET  /metrics          Prometheus counters
//
// Idempotent GETs are retried with exponential backoff on transport errors
// and 5xx/429 responses. Non-2xx statuses surface as *StatusError.
package relay
