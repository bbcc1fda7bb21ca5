// Package session loads, resolves and persists message sessions.
//
// It keeps one live envelope.Session per peer so that concurrent sends and
// receives for the same conversation share one key and one send lock. A
// session is hydrated from the session store (sealed conversation key and
// flags), the contact cache (peer public key) and the message history.
package session
