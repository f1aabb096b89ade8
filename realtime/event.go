// Package realtime keeps a websocket to the backend open for the signed in
// user and fans incoming events out to in-process subscribers.
package realtime

import "encoding/json"

// Event is the envelope the backend pushes over the socket.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Event types sent by the server.
const (
	TypeNotification = "notification"
	TypeMessage      = "message"
	TypePresence     = "presence"
)

// Event types sent by the client.
const (
	TypeHeartbeat = "heartbeat"
)
