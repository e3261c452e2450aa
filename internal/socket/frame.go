package socket

import "encoding/json"

// Frame is the JSON envelope of every websocket text message. Requests and
// pushes set Event (and ID when they expect an acknowledgment); acknowledgments
// set Ack to the ID being answered.
type Frame struct {
	Event string          `json:"event,omitempty"`
	ID    uint64          `json:"id,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (f Frame) IsAck() bool {
	return f.Ack != 0
}

// StatusReply is the acknowledgment body for requests that only carry a status.
type StatusReply struct {
	Status int `json:"status"`
}
