package relay

import "parley/internal/domain"

// JSON bodies exchanged with the relay. Byte slices travel as standard
// base64, like the envelope fields.

type registerRequest struct {
	Username  domain.Username `json:"username"`
	PublicKey []byte          `json:"publicKey"`
}

type registerResponse struct {
	Token string `json:"token"`
}

type keyResponse struct {
	Username  domain.Username `json:"username"`
	PublicKey []byte          `json:"publicKey"`
}

type ackRequest struct {
	Count int `json:"count"`
}

// notice is pushed over the websocket whenever a queue changes.
type notice struct {
	Pending int `json:"pending"`
}
