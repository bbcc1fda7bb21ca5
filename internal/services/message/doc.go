// Package message sends and receives encrypted messages.
//
// Send resolves the recipient's key when needed, builds an envelope, records
// the plaintext locally and hands the envelope to the relay. Receive fetches
// queued envelopes, opens each one independently and acknowledges the batch;
// an envelope that fails to open becomes a DeliveryFailure with a
// user-facing reason, and the rest of the batch and the session carry on.
package message
