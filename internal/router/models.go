package router

import "encoding/json"

// ClientMessage is the envelope of every frame a client sends.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}
