package stream

import "encoding/json"

// Message type discriminators for the JSON envelope clients send over the
// socket. Anything that does not parse as one of these is treated as a raw
// PCM audio frame.
const (
	MessageTypeControl = "control"
	MessageTypeText    = "text"
	MessageTypeBargeIn = "barge_in"
)

// Control commands carried by MessageTypeControl envelopes.
const (
	CommandStartSession = "start_session"
	CommandEndSession   = "end_session"
	CommandPing         = "ping"
)

// ClientMessage is the JSON envelope for non-audio client traffic.
type ClientMessage struct {
	// Type discriminates the envelope: "control", "text" or "barge_in".
	Type string `json:"type"`

	// Command holds the control verb for "control" envelopes.
	Command string `json:"command,omitempty"`

	// Text holds a typed answer. On the wire it arrives under the "content"
	// key; a "text" key is accepted as an alias.
	Text string `json:"text,omitempty"`

	// Energy is the client-measured level accompanying a "barge_in" envelope,
	// in decibels.
	Energy float64 `json:"energy,omitempty"`

	// CollegeType selects the question domain on start_session.
	CollegeType string `json:"college_type,omitempty"`

	// Candidate is the examinee's display name on start_session.
	Candidate string `json:"candidate,omitempty"`
}

// pongReply answers an in-band ping command.
type pongReply struct {
	Type string `json:"type"`
}

// parseClientMessage decodes data as a ClientMessage. It reports false when
// the payload is not a recognised envelope, in which case the caller must
// treat the payload as raw PCM.
func parseClientMessage(data []byte) (ClientMessage, bool) {
	var wire struct {
		ClientMessage
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return ClientMessage{}, false
	}
	msg := wire.ClientMessage
	if wire.Content != "" {
		msg.Text = wire.Content
	}
	switch msg.Type {
	case MessageTypeControl, MessageTypeText, MessageTypeBargeIn:
		return msg, true
	}
	return ClientMessage{}, false
}
