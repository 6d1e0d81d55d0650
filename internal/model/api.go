package model

import "time"

// APIResponse is the envelope of every REST response.
type APIResponse struct {
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// WSMessage is one frame pushed to websocket clients.
type WSMessage struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
