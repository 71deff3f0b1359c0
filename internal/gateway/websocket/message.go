// Package websocket provides the WebSocket hub that streams live capture
// output to subscribed clients. Streamed chunks are advisory: the durable
// sink stays authoritative for a run's final output.
package websocket

// WSMessage represents a WebSocket message.
type WSMessage struct {
	Type    string `json:"type"`
	Run     string `json:"run,omitempty"`
	Data    string `json:"data,omitempty"`
	Path    string `json:"path,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// BroadcastMessage wraps a message with its target run.
type BroadcastMessage struct {
	Run  string
	Data []byte
}

// Message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeOutput      = "output"
	TypeDone        = "done"
	TypeReload      = "reload"
	TypeError       = "error"
)
